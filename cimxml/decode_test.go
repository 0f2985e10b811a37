package cimxml

import (
	"strings"
	"testing"
)

func wrapIMethodResponse(method, inner string) []byte {
	return []byte(`<?xml version="1.0" encoding="utf-8" ?>
<CIM CIMVERSION="2.0" DTDVERSION="2.0">
 <MESSAGE ID="42" PROTOCOLVERSION="1.0">
  <SIMPLERSP>
   <IMETHODRESPONSE NAME="` + method + `">` + inner + `</IMETHODRESPONSE>
  </SIMPLERSP>
 </MESSAGE>
</CIM>`)
}

func TestDecodeResponse_NamedInstances(t *testing.T) {
	inner := `<IRETURNVALUE>
  <VALUE.NAMEDINSTANCE>
   <INSTANCENAME CLASSNAME="CIM_Process">
    <KEYBINDING NAME="Handle"><KEYVALUE VALUETYPE="string">1234</KEYVALUE></KEYBINDING>
   </INSTANCENAME>
   <INSTANCE CLASSNAME="CIM_Process">
    <PROPERTY NAME="Handle" TYPE="string"><VALUE>1234</VALUE></PROPERTY>
    <PROPERTY NAME="Caption" TYPE="string"><VALUE></VALUE></PROPERTY>
    <PROPERTY NAME="Description" TYPE="string"/>
    <PROPERTY NAME="Priority" TYPE="uint32"><VALUE>8</VALUE></PROPERTY>
    <PROPERTY NAME="Interactive" TYPE="boolean"><VALUE>TRUE</VALUE></PROPERTY>
    <PROPERTY NAME="CreationDate" TYPE="datetime"><VALUE>20250101120000.000000+000</VALUE></PROPERTY>
   </INSTANCE>
  </VALUE.NAMEDINSTANCE>
 </IRETURNVALUE>`

	resp, err := DecodeResponse(wrapIMethodResponse("EnumerateInstances", inner))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if len(resp.Instances) != 1 {
		t.Fatalf("got %d instances, want 1", len(resp.Instances))
	}

	inst := resp.Instances[0]
	if inst.ClassName != "CIM_Process" {
		t.Errorf("ClassName = %q, want CIM_Process", inst.ClassName)
	}
	if inst.Path == nil || inst.Path.ClassName != "CIM_Process" {
		t.Fatalf("instance path missing: %+v", inst.Path)
	}
	kb, ok := inst.Path.KeyBinding("handle")
	if !ok || kb.Value != "1234" {
		t.Errorf("path key Handle = %v, want 1234", kb.Value)
	}

	// Empty string and NULL decode differently.
	if p, _ := inst.Property("Caption"); p.Value != "" {
		t.Errorf("Caption = %#v, want empty string", p.Value)
	}
	if p, _ := inst.Property("Description"); p.Value != nil {
		t.Errorf("Description = %#v, want nil (NULL)", p.Value)
	}

	if p, _ := inst.Property("Priority"); p.Value != uint32(8) {
		t.Errorf("Priority = %#v, want uint32(8)", p.Value)
	}
	if p, _ := inst.Property("Interactive"); p.Value != true {
		t.Errorf("Interactive = %#v, want true", p.Value)
	}
	if p, _ := inst.Property("CreationDate"); p.Value != DateTime("20250101120000.000000+000") {
		t.Errorf("CreationDate = %#v", p.Value)
	}
}

func TestDecodeResponse_InstancesWithPath(t *testing.T) {
	inner := `<IRETURNVALUE>
  <VALUE.INSTANCEWITHPATH>
   <INSTANCEPATH>
    <NAMESPACEPATH>
     <HOST>cimom.example.com</HOST>
     <LOCALNAMESPACEPATH><NAMESPACE NAME="root"/><NAMESPACE NAME="cimv2"/></LOCALNAMESPACEPATH>
    </NAMESPACEPATH>
    <INSTANCENAME CLASSNAME="CIM_Fan">
     <KEYBINDING NAME="DeviceID"><KEYVALUE VALUETYPE="string">fan0</KEYVALUE></KEYBINDING>
    </INSTANCENAME>
   </INSTANCEPATH>
   <INSTANCE CLASSNAME="CIM_Fan">
    <PROPERTY NAME="DeviceID" TYPE="string"><VALUE>fan0</VALUE></PROPERTY>
   </INSTANCE>
  </VALUE.INSTANCEWITHPATH>
 </IRETURNVALUE>
 <PARAMVALUE NAME="EnumerationContext" PARAMTYPE="string"><VALUE>tok-9000</VALUE></PARAMVALUE>
 <PARAMVALUE NAME="EndOfSequence" PARAMTYPE="boolean"><VALUE>false</VALUE></PARAMVALUE>`

	resp, err := DecodeResponse(wrapIMethodResponse("OpenEnumerateInstances", inner))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if len(resp.Instances) != 1 {
		t.Fatalf("got %d instances, want 1", len(resp.Instances))
	}

	path := resp.Instances[0].Path
	if path == nil {
		t.Fatal("instance path missing")
	}
	if path.Host != "cimom.example.com" {
		t.Errorf("Host = %q", path.Host)
	}
	if path.Namespace != "root/cimv2" {
		t.Errorf("Namespace = %q", path.Namespace)
	}

	if resp.EnumerationContext != "tok-9000" {
		t.Errorf("EnumerationContext = %q, want tok-9000", resp.EnumerationContext)
	}
	if resp.EndOfSequence == nil || *resp.EndOfSequence {
		t.Errorf("EndOfSequence = %v, want false", resp.EndOfSequence)
	}
}

func TestDecodeResponse_InstanceNames(t *testing.T) {
	inner := `<IRETURNVALUE>
  <INSTANCENAME CLASSNAME="CIM_Chassis">
   <KEYBINDING NAME="Tag"><KEYVALUE VALUETYPE="string">chassis-1</KEYVALUE></KEYBINDING>
   <KEYBINDING NAME="SlotCount"><KEYVALUE VALUETYPE="numeric">12</KEYVALUE></KEYBINDING>
   <KEYBINDING NAME="Primary"><KEYVALUE VALUETYPE="boolean">true</KEYVALUE></KEYBINDING>
   <KEYBINDING NAME="System">
    <VALUE.REFERENCE>
     <INSTANCENAME CLASSNAME="CIM_ComputerSystem">
      <KEYBINDING NAME="Name"><KEYVALUE VALUETYPE="string">host1</KEYVALUE></KEYBINDING>
     </INSTANCENAME>
    </VALUE.REFERENCE>
   </KEYBINDING>
  </INSTANCENAME>
 </IRETURNVALUE>`

	resp, err := DecodeResponse(wrapIMethodResponse("EnumerateInstanceNames", inner))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if len(resp.Paths) != 1 {
		t.Fatalf("got %d paths, want 1", len(resp.Paths))
	}

	name := resp.Paths[0]
	if kb, _ := name.KeyBinding("Tag"); kb.Value != "chassis-1" {
		t.Errorf("Tag = %#v", kb.Value)
	}
	if kb, _ := name.KeyBinding("SlotCount"); kb.Value != int64(12) {
		t.Errorf("SlotCount = %#v, want int64(12)", kb.Value)
	}
	if kb, _ := name.KeyBinding("Primary"); kb.Value != true {
		t.Errorf("Primary = %#v, want true", kb.Value)
	}
	kb, _ := name.KeyBinding("System")
	ref, ok := kb.Value.(*InstanceName)
	if !ok || ref.ClassName != "CIM_ComputerSystem" {
		t.Errorf("System = %#v, want reference to CIM_ComputerSystem", kb.Value)
	}
}

func TestDecodeResponse_PropertyArrays(t *testing.T) {
	inner := `<IRETURNVALUE>
  <INSTANCE CLASSNAME="CIM_NetworkPort">
   <PROPERTY.ARRAY NAME="Speeds" TYPE="uint32">
    <VALUE.ARRAY><VALUE>100</VALUE><VALUE>1000</VALUE></VALUE.ARRAY>
   </PROPERTY.ARRAY>
   <PROPERTY.ARRAY NAME="Aliases" TYPE="string">
    <VALUE.ARRAY></VALUE.ARRAY>
   </PROPERTY.ARRAY>
   <PROPERTY.ARRAY NAME="Unset" TYPE="string"/>
  </INSTANCE>
 </IRETURNVALUE>`

	resp, err := DecodeResponse(wrapIMethodResponse("GetInstance", inner))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	inst := resp.Instances[0]

	p, _ := inst.Property("Speeds")
	speeds, ok := p.Value.([]uint32)
	if !ok || len(speeds) != 2 || speeds[0] != 100 || speeds[1] != 1000 {
		t.Errorf("Speeds = %#v", p.Value)
	}

	// Empty array and absent array decode differently.
	p, _ = inst.Property("Aliases")
	aliases, ok := p.Value.([]string)
	if !ok || len(aliases) != 0 {
		t.Errorf("Aliases = %#v, want empty []string", p.Value)
	}
	p, _ = inst.Property("Unset")
	if p.Value != nil {
		t.Errorf("Unset = %#v, want nil", p.Value)
	}
}

func TestDecodeResponse_ReferenceProperty(t *testing.T) {
	inner := `<IRETURNVALUE>
  <INSTANCE CLASSNAME="CIM_SystemDevice">
   <PROPERTY.REFERENCE NAME="GroupComponent">
    <VALUE.REFERENCE>
     <LOCALINSTANCEPATH>
      <LOCALNAMESPACEPATH><NAMESPACE NAME="root"/><NAMESPACE NAME="cimv2"/></LOCALNAMESPACEPATH>
      <INSTANCENAME CLASSNAME="CIM_ComputerSystem">
       <KEYBINDING NAME="Name"><KEYVALUE VALUETYPE="string">host1</KEYVALUE></KEYBINDING>
      </INSTANCENAME>
     </LOCALINSTANCEPATH>
    </VALUE.REFERENCE>
   </PROPERTY.REFERENCE>
  </INSTANCE>
 </IRETURNVALUE>`

	resp, err := DecodeResponse(wrapIMethodResponse("References", inner))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	p, ok := resp.Instances[0].Property("GroupComponent")
	if !ok {
		t.Fatal("GroupComponent property missing")
	}
	if p.Type != TypeReference {
		t.Errorf("Type = %q, want reference", p.Type)
	}
	ref, ok := p.Value.(*InstanceName)
	if !ok {
		t.Fatalf("value = %#v, want *InstanceName", p.Value)
	}
	if ref.Namespace != "root/cimv2" || ref.ClassName != "CIM_ComputerSystem" {
		t.Errorf("reference = %+v", ref)
	}
}

func TestDecodeResponse_ClassNames(t *testing.T) {
	inner := `<IRETURNVALUE>
  <CLASSNAME NAME="CIM_System"/>
  <CLASSNAME NAME="CIM_Device"/>
 </IRETURNVALUE>`

	resp, err := DecodeResponse(wrapIMethodResponse("EnumerateClassNames", inner))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if len(resp.ClassNames) != 2 || resp.ClassNames[0] != "CIM_System" || resp.ClassNames[1] != "CIM_Device" {
		t.Errorf("ClassNames = %v", resp.ClassNames)
	}
}

func TestDecodeResponse_RawClass(t *testing.T) {
	inner := `<IRETURNVALUE>
  <CLASS NAME="CIM_Process" SUPERCLASS="CIM_LogicalElement">
   <PROPERTY NAME="Handle" TYPE="string"/>
  </CLASS>
 </IRETURNVALUE>`

	resp, err := DecodeResponse(wrapIMethodResponse("GetClass", inner))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if len(resp.Classes) != 1 {
		t.Fatalf("got %d classes, want 1", len(resp.Classes))
	}
	cls := resp.Classes[0]
	if cls.Name != "CIM_Process" {
		t.Errorf("class name = %q", cls.Name)
	}
	if !strings.Contains(string(cls.XML), `PROPERTY NAME="Handle"`) {
		t.Errorf("raw class XML missing property: %s", cls.XML)
	}
}

func TestDecodeResponse_ExtrinsicMethod(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="utf-8" ?>
<CIM CIMVERSION="2.0" DTDVERSION="2.0">
 <MESSAGE ID="9" PROTOCOLVERSION="1.0">
  <SIMPLERSP>
   <METHODRESPONSE NAME="StopService">
    <RETURNVALUE PARAMTYPE="uint32"><VALUE>0</VALUE></RETURNVALUE>
    <PARAMVALUE NAME="Job" PARAMTYPE="string"><VALUE>job-17</VALUE></PARAMVALUE>
   </METHODRESPONSE>
  </SIMPLERSP>
 </MESSAGE>
</CIM>`)

	resp, err := DecodeResponse(body)
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if resp.ReturnValue != uint32(0) {
		t.Errorf("ReturnValue = %#v, want uint32(0)", resp.ReturnValue)
	}
	if len(resp.OutParams) != 1 || resp.OutParams[0].Name != "Job" || resp.OutParams[0].Value != "job-17" {
		t.Errorf("OutParams = %#v", resp.OutParams)
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid xml", `not xml at all`},
		{"missing simplersp", `<CIM CIMVERSION="2.0" DTDVERSION="2.0"><MESSAGE ID="1" PROTOCOLVERSION="1.0"></MESSAGE></CIM>`},
		{"missing method response", `<CIM CIMVERSION="2.0" DTDVERSION="2.0"><MESSAGE ID="1" PROTOCOLVERSION="1.0"><SIMPLERSP></SIMPLERSP></MESSAGE></CIM>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse([]byte(tt.body))
			if !IsMalformedResponse(err) {
				t.Errorf("got %v, want MalformedResponseError", err)
			}
		})
	}
}

func TestDecodeResponse_BadNumericLiteral(t *testing.T) {
	inner := `<IRETURNVALUE>
  <INSTANCE CLASSNAME="CIM_Thing">
   <PROPERTY NAME="Count" TYPE="uint32"><VALUE>banana</VALUE></PROPERTY>
  </INSTANCE>
 </IRETURNVALUE>`

	_, err := DecodeResponse(wrapIMethodResponse("GetInstance", inner))
	if !IsMalformedResponse(err) {
		t.Errorf("got %v, want MalformedResponseError", err)
	}
}

func TestDecodeResponse_UnknownTypePermissive(t *testing.T) {
	inner := `<IRETURNVALUE>
  <INSTANCE CLASSNAME="CIM_Thing">
   <PROPERTY NAME="Odd" TYPE="futuretype"><VALUE>whatever</VALUE></PROPERTY>
  </INSTANCE>
 </IRETURNVALUE>`

	resp, err := DecodeResponse(wrapIMethodResponse("GetInstance", inner))
	if err != nil {
		t.Fatalf("DecodeResponse failed: %v", err)
	}
	if p, _ := resp.Instances[0].Property("Odd"); p.Value != "whatever" {
		t.Errorf("Odd = %#v, want string passthrough", p.Value)
	}
}

func TestInstanceName_String(t *testing.T) {
	n := InstanceName{
		Host:      "cimom.example.com",
		Namespace: "root/cimv2",
		ClassName: "CIM_Process",
		KeyBindings: []KeyBinding{
			{Name: "Handle", Value: "1234"},
			{Name: "Priority", Value: int64(8)},
		},
	}
	got := n.String()
	want := `//cimom.example.com/root/cimv2:CIM_Process.Handle="1234",Priority=8`
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
