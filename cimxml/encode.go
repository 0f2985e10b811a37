package cimxml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// EncodeMethodCall builds the CIM-XML payload for one intrinsic method
// call against a namespace. Parameters with a nil value are omitted.
func EncodeMethodCall(messageID uint64, method, namespace string, params []Param) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(xmlDeclaration)
	writeMessageOpen(buf, messageID)
	buf.WriteString(`<SIMPLEREQ><IMETHODCALL NAME="`)
	escapeTo(buf, method)
	buf.WriteString(`">`)
	writeLocalNamespacePath(buf, namespace)
	for _, p := range params {
		if p.Value == nil {
			continue
		}
		buf.WriteString(`<IPARAMVALUE NAME="`)
		escapeTo(buf, p.Name)
		buf.WriteString(`">`)
		if err := writeParamValue(buf, p.Value); err != nil {
			return nil, fmt.Errorf("encode parameter %s: %w", p.Name, err)
		}
		buf.WriteString(`</IPARAMVALUE>`)
	}
	buf.WriteString(`</IMETHODCALL></SIMPLEREQ>`)
	writeMessageClose(buf)
	return buf.Bytes(), nil
}

// EncodeExtMethodCall builds the CIM-XML payload for an extrinsic method
// invocation on an instance or class. The target path is rendered as a
// LOCALINSTANCEPATH or LOCALCLASSPATH within the given namespace.
func EncodeExtMethodCall(messageID uint64, method, namespace string, target any, params []Param) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(xmlDeclaration)
	writeMessageOpen(buf, messageID)
	buf.WriteString(`<SIMPLEREQ><METHODCALL NAME="`)
	escapeTo(buf, method)
	buf.WriteString(`">`)

	switch t := target.(type) {
	case *InstanceName:
		buf.WriteString(`<LOCALINSTANCEPATH>`)
		writeLocalNamespacePath(buf, namespace)
		writeInstanceName(buf, t)
		buf.WriteString(`</LOCALINSTANCEPATH>`)
	case ClassName:
		buf.WriteString(`<LOCALCLASSPATH>`)
		writeLocalNamespacePath(buf, namespace)
		buf.WriteString(`<CLASSNAME NAME="`)
		escapeTo(buf, string(t))
		buf.WriteString(`"/></LOCALCLASSPATH>`)
	default:
		return nil, fmt.Errorf("cimxml: unsupported method target %T", target)
	}

	for _, p := range params {
		if p.Value == nil {
			continue
		}
		typ, err := InferType(p.Value)
		if err != nil {
			return nil, fmt.Errorf("encode parameter %s: %w", p.Name, err)
		}
		buf.WriteString(`<PARAMVALUE NAME="`)
		escapeTo(buf, p.Name)
		buf.WriteString(`" PARAMTYPE="`)
		buf.WriteString(string(typ))
		buf.WriteString(`">`)
		if err := writeParamValue(buf, p.Value); err != nil {
			return nil, fmt.Errorf("encode parameter %s: %w", p.Name, err)
		}
		buf.WriteString(`</PARAMVALUE>`)
	}
	buf.WriteString(`</METHODCALL></SIMPLEREQ>`)
	writeMessageClose(buf)
	return buf.Bytes(), nil
}

func writeMessageOpen(buf *bytes.Buffer, messageID uint64) {
	fmt.Fprintf(buf, `<CIM CIMVERSION="%s" DTDVERSION="%s"><MESSAGE ID="%d" PROTOCOLVERSION="%s">`,
		CIMVersion, DTDVersion, messageID, ProtocolVersion)
}

func writeMessageClose(buf *bytes.Buffer) {
	buf.WriteString(`</MESSAGE></CIM>`)
}

// writeLocalNamespacePath renders "root/cimv2" as a LOCALNAMESPACEPATH
// with one NAMESPACE element per path component.
func writeLocalNamespacePath(buf *bytes.Buffer, namespace string) {
	buf.WriteString(`<LOCALNAMESPACEPATH>`)
	for _, part := range strings.Split(namespace, "/") {
		if part == "" {
			continue
		}
		buf.WriteString(`<NAMESPACE NAME="`)
		escapeTo(buf, part)
		buf.WriteString(`"/>`)
	}
	buf.WriteString(`</LOCALNAMESPACEPATH>`)
}

// writeParamValue renders one parameter value in its CIM-XML element
// form. Which element is used depends on the Go type.
func writeParamValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case ClassName:
		buf.WriteString(`<CLASSNAME NAME="`)
		escapeTo(buf, string(t))
		buf.WriteString(`"/>`)
		return nil
	case *InstanceName:
		writeInstanceName(buf, t)
		return nil
	case *Instance:
		return writeInstance(buf, t)
	case NamedInstance:
		if t.Instance == nil || t.Instance.Path == nil {
			return fmt.Errorf("cimxml: named instance requires an instance path")
		}
		buf.WriteString(`<VALUE.NAMEDINSTANCE>`)
		writeInstanceName(buf, t.Instance.Path)
		if err := writeInstance(buf, t.Instance); err != nil {
			return err
		}
		buf.WriteString(`</VALUE.NAMEDINSTANCE>`)
		return nil
	}
	if isArray(v) {
		return writeValueArray(buf, v)
	}
	return writeValue(buf, v)
}

// writeInstanceName renders an INSTANCENAME element with key bindings.
func writeInstanceName(buf *bytes.Buffer, n *InstanceName) {
	buf.WriteString(`<INSTANCENAME CLASSNAME="`)
	escapeTo(buf, n.ClassName)
	buf.WriteString(`">`)
	for _, kb := range n.KeyBindings {
		buf.WriteString(`<KEYBINDING NAME="`)
		escapeTo(buf, kb.Name)
		buf.WriteString(`">`)
		if ref, ok := kb.Value.(*InstanceName); ok {
			writeValueReference(buf, ref)
		} else {
			buf.WriteString(`<KEYVALUE VALUETYPE="`)
			buf.WriteString(keyValueType(kb.Value))
			buf.WriteString(`">`)
			escapeTo(buf, keyValueLiteral(kb.Value))
			buf.WriteString(`</KEYVALUE>`)
		}
		buf.WriteString(`</KEYBINDING>`)
	}
	buf.WriteString(`</INSTANCENAME>`)
}

// writeValueReference renders a reference value. Fully qualified names
// become INSTANCEPATH, namespace-qualified become LOCALINSTANCEPATH,
// bare names stay INSTANCENAME.
func writeValueReference(buf *bytes.Buffer, n *InstanceName) {
	buf.WriteString(`<VALUE.REFERENCE>`)
	switch {
	case n.Host != "":
		buf.WriteString(`<INSTANCEPATH><NAMESPACEPATH><HOST>`)
		escapeTo(buf, n.Host)
		buf.WriteString(`</HOST>`)
		writeLocalNamespacePath(buf, n.Namespace)
		buf.WriteString(`</NAMESPACEPATH>`)
		writeInstanceName(buf, n)
		buf.WriteString(`</INSTANCEPATH>`)
	case n.Namespace != "":
		buf.WriteString(`<LOCALINSTANCEPATH>`)
		writeLocalNamespacePath(buf, n.Namespace)
		writeInstanceName(buf, n)
		buf.WriteString(`</LOCALINSTANCEPATH>`)
	default:
		writeInstanceName(buf, n)
	}
	buf.WriteString(`</VALUE.REFERENCE>`)
}

// writeInstance renders an INSTANCE element with its properties.
func writeInstance(buf *bytes.Buffer, inst *Instance) error {
	buf.WriteString(`<INSTANCE CLASSNAME="`)
	escapeTo(buf, inst.ClassName)
	buf.WriteString(`">`)
	for _, p := range inst.Properties {
		if err := writeProperty(buf, p); err != nil {
			return err
		}
	}
	buf.WriteString(`</INSTANCE>`)
	return nil
}

func writeProperty(buf *bytes.Buffer, p Property) error {
	if ref, ok := p.Value.(*InstanceName); ok {
		buf.WriteString(`<PROPERTY.REFERENCE NAME="`)
		escapeTo(buf, p.Name)
		buf.WriteString(`">`)
		writeValueReference(buf, ref)
		buf.WriteString(`</PROPERTY.REFERENCE>`)
		return nil
	}

	typ := p.Type
	if typ == "" && p.Value != nil {
		inferred, err := InferType(p.Value)
		if err != nil {
			return fmt.Errorf("property %s: %w", p.Name, err)
		}
		typ = inferred
	}
	if typ == "" {
		// NULL property with no declared type; string is the safest wire type.
		typ = TypeString
	}

	if isArray(p.Value) {
		buf.WriteString(`<PROPERTY.ARRAY NAME="`)
		escapeTo(buf, p.Name)
		buf.WriteString(`" TYPE="`)
		buf.WriteString(string(typ))
		buf.WriteString(`">`)
		if err := writeValueArray(buf, p.Value); err != nil {
			return fmt.Errorf("property %s: %w", p.Name, err)
		}
		buf.WriteString(`</PROPERTY.ARRAY>`)
		return nil
	}

	buf.WriteString(`<PROPERTY NAME="`)
	escapeTo(buf, p.Name)
	buf.WriteString(`" TYPE="`)
	buf.WriteString(string(typ))
	buf.WriteString(`">`)
	if p.Value != nil {
		if err := writeValue(buf, p.Value); err != nil {
			return fmt.Errorf("property %s: %w", p.Name, err)
		}
	}
	buf.WriteString(`</PROPERTY>`)
	return nil
}

// writeValue renders a scalar as a VALUE element.
func writeValue(buf *bytes.Buffer, v any) error {
	lit, err := formatScalar(v)
	if err != nil {
		return err
	}
	buf.WriteString(`<VALUE>`)
	escapeTo(buf, lit)
	buf.WriteString(`</VALUE>`)
	return nil
}

// writeValueArray renders a homogeneous slice as a VALUE.ARRAY element.
func writeValueArray(buf *bytes.Buffer, v any) error {
	buf.WriteString(`<VALUE.ARRAY>`)
	var err error
	switch s := v.(type) {
	case []bool:
		err = writeValues(buf, s)
	case []string:
		err = writeValues(buf, s)
	case []uint8:
		err = writeValues(buf, s)
	case []uint16:
		err = writeValues(buf, s)
	case []uint32:
		err = writeValues(buf, s)
	case []uint64:
		err = writeValues(buf, s)
	case []int8:
		err = writeValues(buf, s)
	case []int16:
		err = writeValues(buf, s)
	case []int32:
		err = writeValues(buf, s)
	case []int64:
		err = writeValues(buf, s)
	case []float32:
		err = writeValues(buf, s)
	case []float64:
		err = writeValues(buf, s)
	case []DateTime:
		err = writeValues(buf, s)
	default:
		err = fmt.Errorf("cimxml: unsupported array type %T", v)
	}
	if err != nil {
		return err
	}
	buf.WriteString(`</VALUE.ARRAY>`)
	return nil
}

func writeValues[T any](buf *bytes.Buffer, s []T) error {
	for _, e := range s {
		if err := writeValue(buf, e); err != nil {
			return err
		}
	}
	return nil
}

func isArray(v any) bool {
	switch v.(type) {
	case []bool, []string, []uint8, []uint16, []uint32, []uint64,
		[]int8, []int16, []int32, []int64, []float32, []float64, []DateTime:
		return true
	}
	return false
}

// formatScalar renders one scalar per the CIM-XML literal rules:
// booleans lowercase, integers decimal, reals in shortest round-trip
// scientific notation. Byte-for-byte real rendering is not normative
// across implementations; round-trip decode equality is.
func formatScalar(v any) (string, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return "true", nil
		}
		return "false", nil
	case string:
		return t, nil
	case DateTime:
		return string(t), nil
	case uint8:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case int8:
		return strconv.FormatInt(int64(t), 10), nil
	case int16:
		return strconv.FormatInt(int64(t), 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'E', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'E', -1, 64), nil
	default:
		return "", fmt.Errorf("cimxml: unsupported scalar type %T", v)
	}
}

// keyValueType maps a key binding value to the KEYVALUE VALUETYPE
// attribute {string, boolean, numeric}.
func keyValueType(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case string, DateTime:
		return "string"
	default:
		return "numeric"
	}
}

func keyValueLiteral(v any) string {
	lit, err := formatScalar(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return lit
}

// escapeTo writes s with XML special characters escaped. EscapeText only
// fails when the writer fails, which bytes.Buffer never does.
func escapeTo(buf *bytes.Buffer, s string) {
	_ = xml.EscapeText(buf, []byte(s))
}
