package cimxml

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// Class is a raw CLASS element from a schema operation. The codec treats
// class definitions as opaque; only the name is extracted.
type Class struct {
	Name string
	XML  []byte
}

// OperationResponse is the decoded result of one method call. Only the
// fields relevant to the invoked operation are populated.
type OperationResponse struct {
	// Method is the NAME attribute echoed by the server.
	Method string

	// Instances holds decoded instances, with paths where the response
	// shape carried them.
	Instances []Instance

	// Paths holds decoded instance paths.
	Paths []InstanceName

	// ClassNames holds class names from class-enumeration responses.
	ClassNames []string

	// Classes holds raw class definitions from schema operations.
	Classes []Class

	// ReturnValue is the scalar return of an extrinsic method call.
	ReturnValue any

	// OutParams holds extrinsic output parameters.
	OutParams []Param

	// EnumerationContext is the server-issued context token of a pull
	// sequence response, empty when absent.
	EnumerationContext string

	// EndOfSequence is the pull-sequence termination flag, nil when the
	// response carried none.
	EndOfSequence *bool
}

// DecodeResponse decodes a CIM-XML operation response body. A payload
// carrying an ERROR element decodes to a *Fault; a payload that is not
// valid CIM-XML for an operation response decodes to a
// *MalformedResponseError.
func DecodeResponse(data []byte) (*OperationResponse, error) {
	var env cimEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, malformed("invalid XML", err)
	}
	rsp := env.Message.SimpleRsp
	if rsp == nil {
		return nil, malformed("missing SIMPLERSP element", nil)
	}

	switch {
	case rsp.IMethod != nil:
		return decodeIMethodResponse(rsp.IMethod)
	case rsp.Method != nil:
		return decodeMethodResponse(rsp.Method)
	default:
		return nil, malformed("missing method response element", nil)
	}
}

func decodeIMethodResponse(m *iMethodResponse) (*OperationResponse, error) {
	if m.Error != nil {
		return nil, convertFault(m.Error)
	}

	resp := &OperationResponse{Method: m.Name}
	if err := convertOutParams(m.Params, resp); err != nil {
		return nil, err
	}
	if m.Return == nil {
		return resp, nil
	}
	if err := convertReturnValue(m.Return, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func decodeMethodResponse(m *methodResponse) (*OperationResponse, error) {
	if m.Error != nil {
		return nil, convertFault(m.Error)
	}

	resp := &OperationResponse{Method: m.Name}
	if m.Return != nil {
		v, err := convertParamValue(m.Return.ParamType, m.Return.Value, m.Return.Array, m.Return.Ref)
		if err != nil {
			return nil, err
		}
		resp.ReturnValue = v
	}
	for _, p := range m.Params {
		v, err := convertParamValue(p.ParamType, p.Value, p.Array, p.Ref)
		if err != nil {
			return nil, err
		}
		resp.OutParams = append(resp.OutParams, Param{Name: p.Name, Value: v})
	}
	return resp, nil
}

func convertFault(e *xmlError) error {
	code, err := strconv.Atoi(e.Code)
	if err != nil {
		return malformed("non-numeric ERROR code "+e.Code, err)
	}
	f := &Fault{Code: code, Description: e.Description}
	for i := range e.Instances {
		inst, err := convertInstance(&e.Instances[i])
		if err != nil {
			// Extended errors are advisory; a broken one does not mask
			// the fault itself.
			continue
		}
		f.Instances = append(f.Instances, inst)
	}
	return f
}

// convertOutParams extracts pull-sequence output parameters
// (EnumerationContext, EndOfSequence) from IMETHODRESPONSE PARAMVALUEs.
func convertOutParams(params []xmlParamValue, resp *OperationResponse) error {
	for _, p := range params {
		switch {
		case strings.EqualFold(p.Name, "EnumerationContext"):
			if p.Value != nil {
				resp.EnumerationContext = p.Value.Data
			}
		case strings.EqualFold(p.Name, "EndOfSequence"):
			if p.Value != nil {
				b, err := parseBool(p.Value.Data)
				if err != nil {
					return malformed("invalid EndOfSequence value "+p.Value.Data, err)
				}
				resp.EndOfSequence = &b
			}
		}
	}
	return nil
}

// convertReturnValue maps every IRETURNVALUE item shape into the decoded
// response. Unknown extra elements are ignored.
func convertReturnValue(rv *returnValue, resp *OperationResponse) error {
	for i := range rv.NamedInstances {
		inst, err := convertInstance(&rv.NamedInstances[i].Instance)
		if err != nil {
			return err
		}
		name, err := convertInstanceName(&rv.NamedInstances[i].InstanceName)
		if err != nil {
			return err
		}
		inst.Path = &name
		resp.Instances = append(resp.Instances, inst)
	}
	for i := range rv.InstancesWithPath {
		inst, err := convertInstance(&rv.InstancesWithPath[i].Instance)
		if err != nil {
			return err
		}
		path, err := convertInstancePath(&rv.InstancesWithPath[i].InstancePath)
		if err != nil {
			return err
		}
		inst.Path = &path
		resp.Instances = append(resp.Instances, inst)
	}
	for i := range rv.ObjectsWithPath {
		if rv.ObjectsWithPath[i].Instance == nil {
			continue
		}
		inst, err := convertInstance(rv.ObjectsWithPath[i].Instance)
		if err != nil {
			return err
		}
		if rv.ObjectsWithPath[i].InstancePath != nil {
			path, err := convertInstancePath(rv.ObjectsWithPath[i].InstancePath)
			if err != nil {
				return err
			}
			inst.Path = &path
		}
		resp.Instances = append(resp.Instances, inst)
	}
	for i := range rv.Instances {
		inst, err := convertInstance(&rv.Instances[i])
		if err != nil {
			return err
		}
		resp.Instances = append(resp.Instances, inst)
	}
	for i := range rv.InstanceNames {
		name, err := convertInstanceName(&rv.InstanceNames[i])
		if err != nil {
			return err
		}
		resp.Paths = append(resp.Paths, name)
	}
	for i := range rv.InstancePaths {
		path, err := convertInstancePath(&rv.InstancePaths[i])
		if err != nil {
			return err
		}
		resp.Paths = append(resp.Paths, path)
	}
	for i := range rv.ObjectPaths {
		if rv.ObjectPaths[i].InstancePath == nil {
			continue
		}
		path, err := convertInstancePath(rv.ObjectPaths[i].InstancePath)
		if err != nil {
			return err
		}
		resp.Paths = append(resp.Paths, path)
	}
	for _, cn := range rv.ClassNames {
		resp.ClassNames = append(resp.ClassNames, cn.Name)
	}
	for _, c := range rv.Classes {
		resp.Classes = append(resp.Classes, Class{Name: c.Name, XML: c.Raw})
	}
	return nil
}

func convertInstance(x *xmlInstance) (Instance, error) {
	inst := Instance{ClassName: x.ClassName}
	for _, p := range x.Properties {
		typ := CIMType(p.Type)
		if typ == "" {
			typ = TypeString
		}
		var val any
		if p.Value != nil {
			v, err := parseScalar(typ, p.Value.Data)
			if err != nil {
				return Instance{}, err
			}
			val = v
		}
		inst.Properties = append(inst.Properties, Property{Name: p.Name, Type: typ, Value: val})
	}
	for _, p := range x.PropertyArrays {
		typ := CIMType(p.Type)
		if typ == "" {
			typ = TypeString
		}
		var val any
		if p.Array != nil {
			v, err := parseArray(typ, p.Array.Values)
			if err != nil {
				return Instance{}, err
			}
			val = v
		}
		inst.Properties = append(inst.Properties, Property{Name: p.Name, Type: typ, Value: val})
	}
	for _, p := range x.PropertyRefs {
		var val any
		if p.Ref != nil {
			ref, err := convertValueReference(p.Ref)
			if err != nil {
				return Instance{}, err
			}
			val = ref
		}
		inst.Properties = append(inst.Properties, Property{Name: p.Name, Type: TypeReference, Value: val})
	}
	return inst, nil
}

func convertInstanceName(x *xmlInstanceName) (InstanceName, error) {
	name := InstanceName{ClassName: x.ClassName}
	for _, kb := range x.KeyBindings {
		b := KeyBinding{Name: kb.Name}
		switch {
		case kb.KeyValue != nil:
			v, err := parseKeyValue(kb.KeyValue)
			if err != nil {
				return InstanceName{}, err
			}
			b.Value = v
		case kb.Ref != nil:
			ref, err := convertValueReference(kb.Ref)
			if err != nil {
				return InstanceName{}, err
			}
			b.Value = ref
		}
		name.KeyBindings = append(name.KeyBindings, b)
	}
	return name, nil
}

func convertInstancePath(x *xmlInstancePath) (InstanceName, error) {
	name, err := convertInstanceName(&x.InstanceName)
	if err != nil {
		return InstanceName{}, err
	}
	name.Host = x.NamespacePath.Host
	name.Namespace = joinNamespace(x.NamespacePath.Local)
	return name, nil
}

func convertValueReference(x *xmlValueReference) (*InstanceName, error) {
	switch {
	case x.InstancePath != nil:
		name, err := convertInstancePath(x.InstancePath)
		if err != nil {
			return nil, err
		}
		return &name, nil
	case x.LocalInstancePath != nil:
		name, err := convertInstanceName(&x.LocalInstancePath.InstanceName)
		if err != nil {
			return nil, err
		}
		name.Namespace = joinNamespace(x.LocalInstancePath.Local)
		return &name, nil
	case x.InstanceName != nil:
		name, err := convertInstanceName(x.InstanceName)
		if err != nil {
			return nil, err
		}
		return &name, nil
	default:
		return nil, malformed("VALUE.REFERENCE without instance path", nil)
	}
}

func convertParamValue(paramType string, v *xmlValue, arr *xmlValueArray, ref *xmlValueReference) (any, error) {
	typ := CIMType(paramType)
	if typ == "" {
		typ = TypeString
	}
	switch {
	case ref != nil:
		return convertValueReference(ref)
	case arr != nil:
		return parseArray(typ, arr.Values)
	case v != nil:
		return parseScalar(typ, v.Data)
	default:
		return nil, nil
	}
}

func joinNamespace(p xmlLocalNamespacePath) string {
	parts := make([]string, 0, len(p.Namespaces))
	for _, ns := range p.Namespaces {
		parts = append(parts, ns.Name)
	}
	return strings.Join(parts, "/")
}

// parseScalar converts one CIM-XML literal into its Go value. A literal
// that does not parse for its declared type is a malformed response.
func parseScalar(t CIMType, s string) (any, error) {
	switch t {
	case TypeString, TypeChar16:
		return s, nil
	case TypeDateTime:
		return DateTime(s), nil
	case TypeBoolean:
		return parseBool(s)
	case TypeUint8:
		v, err := strconv.ParseUint(s, 10, 8)
		return uint8(v), numErr(t, s, err)
	case TypeUint16:
		v, err := strconv.ParseUint(s, 10, 16)
		return uint16(v), numErr(t, s, err)
	case TypeUint32:
		v, err := strconv.ParseUint(s, 10, 32)
		return uint32(v), numErr(t, s, err)
	case TypeUint64:
		v, err := strconv.ParseUint(s, 10, 64)
		return v, numErr(t, s, err)
	case TypeSint8:
		v, err := strconv.ParseInt(s, 10, 8)
		return int8(v), numErr(t, s, err)
	case TypeSint16:
		v, err := strconv.ParseInt(s, 10, 16)
		return int16(v), numErr(t, s, err)
	case TypeSint32:
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), numErr(t, s, err)
	case TypeSint64:
		v, err := strconv.ParseInt(s, 10, 64)
		return v, numErr(t, s, err)
	case TypeReal32:
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), numErr(t, s, err)
	case TypeReal64:
		v, err := strconv.ParseFloat(s, 64)
		return v, numErr(t, s, err)
	default:
		// Unknown TYPE attributes decode permissively as strings.
		return s, nil
	}
}

func numErr(t CIMType, s string, err error) error {
	if err == nil {
		return nil
	}
	return malformed("invalid "+string(t)+" literal "+strconv.Quote(s), err)
}

// parseBool accepts the case variants real servers emit ("true", "TRUE").
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, malformed("invalid boolean literal "+strconv.Quote(s), nil)
	}
}

// parseArray converts VALUE.ARRAY children into a typed Go slice. A zero
// element array yields an empty slice of the declared type.
func parseArray(t CIMType, vals []xmlValue) (any, error) {
	switch t {
	case TypeString, TypeChar16:
		return parseSlice[string](t, vals)
	case TypeDateTime:
		return parseSlice[DateTime](t, vals)
	case TypeBoolean:
		return parseSlice[bool](t, vals)
	case TypeUint8:
		return parseSlice[uint8](t, vals)
	case TypeUint16:
		return parseSlice[uint16](t, vals)
	case TypeUint32:
		return parseSlice[uint32](t, vals)
	case TypeUint64:
		return parseSlice[uint64](t, vals)
	case TypeSint8:
		return parseSlice[int8](t, vals)
	case TypeSint16:
		return parseSlice[int16](t, vals)
	case TypeSint32:
		return parseSlice[int32](t, vals)
	case TypeSint64:
		return parseSlice[int64](t, vals)
	case TypeReal32:
		return parseSlice[float32](t, vals)
	case TypeReal64:
		return parseSlice[float64](t, vals)
	default:
		return parseSlice[string](TypeString, vals)
	}
}

func parseSlice[T any](t CIMType, vals []xmlValue) ([]T, error) {
	out := make([]T, 0, len(vals))
	for _, v := range vals {
		parsed, err := parseScalar(t, v.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed.(T))
	}
	return out, nil
}

// parseKeyValue converts a KEYVALUE element per its VALUETYPE attribute.
// Numeric key values decode as int64, or uint64 beyond the int64 range.
func parseKeyValue(kv *xmlKeyValue) (any, error) {
	if kv.Type != "" {
		return parseScalar(CIMType(kv.Type), kv.Data)
	}
	switch strings.ToLower(kv.ValueType) {
	case "boolean":
		return parseBool(kv.Data)
	case "numeric":
		if v, err := strconv.ParseInt(kv.Data, 10, 64); err == nil {
			return v, nil
		}
		if v, err := strconv.ParseUint(kv.Data, 10, 64); err == nil {
			return v, nil
		}
		if v, err := strconv.ParseFloat(kv.Data, 64); err == nil {
			return v, nil
		}
		return nil, malformed("invalid numeric key value "+strconv.Quote(kv.Data), nil)
	default:
		// "string" and absent VALUETYPE both decode as strings.
		return kv.Data, nil
	}
}

// XML shapes for response parsing. Element names follow DSP0201.

type cimEnvelope struct {
	XMLName xml.Name   `xml:"CIM"`
	Message cimMessage `xml:"MESSAGE"`
}

type cimMessage struct {
	ID        string     `xml:"ID,attr"`
	SimpleRsp *simpleRsp `xml:"SIMPLERSP"`
}

type simpleRsp struct {
	IMethod *iMethodResponse `xml:"IMETHODRESPONSE"`
	Method  *methodResponse  `xml:"METHODRESPONSE"`
}

type iMethodResponse struct {
	Name   string          `xml:"NAME,attr"`
	Error  *xmlError       `xml:"ERROR"`
	Return *returnValue    `xml:"IRETURNVALUE"`
	Params []xmlParamValue `xml:"PARAMVALUE"`
}

type methodResponse struct {
	Name   string          `xml:"NAME,attr"`
	Error  *xmlError       `xml:"ERROR"`
	Return *xmlReturnValue `xml:"RETURNVALUE"`
	Params []xmlParamValue `xml:"PARAMVALUE"`
}

type xmlError struct {
	Code        string        `xml:"CODE,attr"`
	Description string        `xml:"DESCRIPTION,attr"`
	Instances   []xmlInstance `xml:"INSTANCE"`
}

type returnValue struct {
	NamedInstances    []xmlNamedInstance    `xml:"VALUE.NAMEDINSTANCE"`
	InstancesWithPath []xmlInstanceWithPath `xml:"VALUE.INSTANCEWITHPATH"`
	ObjectsWithPath   []xmlObjectWithPath   `xml:"VALUE.OBJECTWITHPATH"`
	Instances         []xmlInstance         `xml:"INSTANCE"`
	InstanceNames     []xmlInstanceName     `xml:"INSTANCENAME"`
	InstancePaths     []xmlInstancePath     `xml:"INSTANCEPATH"`
	ObjectPaths       []xmlObjectPath       `xml:"OBJECTPATH"`
	ClassNames        []xmlName             `xml:"CLASSNAME"`
	Classes           []xmlRawClass         `xml:"CLASS"`
}

type xmlParamValue struct {
	Name      string             `xml:"NAME,attr"`
	ParamType string             `xml:"PARAMTYPE,attr"`
	Value     *xmlValue          `xml:"VALUE"`
	Array     *xmlValueArray     `xml:"VALUE.ARRAY"`
	Ref       *xmlValueReference `xml:"VALUE.REFERENCE"`
}

type xmlReturnValue struct {
	ParamType string             `xml:"PARAMTYPE,attr"`
	Value     *xmlValue          `xml:"VALUE"`
	Array     *xmlValueArray     `xml:"VALUE.ARRAY"`
	Ref       *xmlValueReference `xml:"VALUE.REFERENCE"`
}

type xmlValue struct {
	Data string `xml:",chardata"`
}

type xmlValueArray struct {
	Values []xmlValue `xml:"VALUE"`
}

type xmlInstance struct {
	ClassName      string             `xml:"CLASSNAME,attr"`
	Properties     []xmlProperty      `xml:"PROPERTY"`
	PropertyArrays []xmlPropertyArray `xml:"PROPERTY.ARRAY"`
	PropertyRefs   []xmlPropertyRef   `xml:"PROPERTY.REFERENCE"`
}

type xmlProperty struct {
	Name  string    `xml:"NAME,attr"`
	Type  string    `xml:"TYPE,attr"`
	Value *xmlValue `xml:"VALUE"`
}

type xmlPropertyArray struct {
	Name  string         `xml:"NAME,attr"`
	Type  string         `xml:"TYPE,attr"`
	Array *xmlValueArray `xml:"VALUE.ARRAY"`
}

type xmlPropertyRef struct {
	Name string             `xml:"NAME,attr"`
	Ref  *xmlValueReference `xml:"VALUE.REFERENCE"`
}

type xmlValueReference struct {
	InstancePath      *xmlInstancePath      `xml:"INSTANCEPATH"`
	LocalInstancePath *xmlLocalInstancePath `xml:"LOCALINSTANCEPATH"`
	InstanceName      *xmlInstanceName      `xml:"INSTANCENAME"`
}

type xmlInstanceName struct {
	ClassName   string          `xml:"CLASSNAME,attr"`
	KeyBindings []xmlKeyBinding `xml:"KEYBINDING"`
}

type xmlKeyBinding struct {
	Name     string             `xml:"NAME,attr"`
	KeyValue *xmlKeyValue       `xml:"KEYVALUE"`
	Ref      *xmlValueReference `xml:"VALUE.REFERENCE"`
}

type xmlKeyValue struct {
	ValueType string `xml:"VALUETYPE,attr"`
	Type      string `xml:"TYPE,attr"`
	Data      string `xml:",chardata"`
}

type xmlNamespacePath struct {
	Host  string                `xml:"HOST"`
	Local xmlLocalNamespacePath `xml:"LOCALNAMESPACEPATH"`
}

type xmlLocalNamespacePath struct {
	Namespaces []xmlName `xml:"NAMESPACE"`
}

type xmlInstancePath struct {
	NamespacePath xmlNamespacePath `xml:"NAMESPACEPATH"`
	InstanceName  xmlInstanceName  `xml:"INSTANCENAME"`
}

type xmlLocalInstancePath struct {
	Local        xmlLocalNamespacePath `xml:"LOCALNAMESPACEPATH"`
	InstanceName xmlInstanceName       `xml:"INSTANCENAME"`
}

type xmlNamedInstance struct {
	InstanceName xmlInstanceName `xml:"INSTANCENAME"`
	Instance     xmlInstance     `xml:"INSTANCE"`
}

type xmlInstanceWithPath struct {
	InstancePath xmlInstancePath `xml:"INSTANCEPATH"`
	Instance     xmlInstance     `xml:"INSTANCE"`
}

type xmlObjectWithPath struct {
	InstancePath *xmlInstancePath `xml:"INSTANCEPATH"`
	Instance     *xmlInstance     `xml:"INSTANCE"`
}

type xmlObjectPath struct {
	InstancePath *xmlInstancePath `xml:"INSTANCEPATH"`
}

type xmlName struct {
	Name string `xml:"NAME,attr"`
}

type xmlRawClass struct {
	Name string `xml:"NAME,attr"`
	Raw  []byte `xml:",innerxml"`
}
