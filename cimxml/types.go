package cimxml

import (
	"fmt"
	"strings"
)

// CIMType identifies a CIM intrinsic data type as it appears in the TYPE
// attribute of CIM-XML elements.
type CIMType string

// CIM intrinsic data types (DSP0004).
const (
	TypeBoolean   CIMType = "boolean"
	TypeString    CIMType = "string"
	TypeChar16    CIMType = "char16"
	TypeUint8     CIMType = "uint8"
	TypeUint16    CIMType = "uint16"
	TypeUint32    CIMType = "uint32"
	TypeUint64    CIMType = "uint64"
	TypeSint8     CIMType = "sint8"
	TypeSint16    CIMType = "sint16"
	TypeSint32    CIMType = "sint32"
	TypeSint64    CIMType = "sint64"
	TypeReal32    CIMType = "real32"
	TypeReal64    CIMType = "real64"
	TypeDateTime  CIMType = "datetime"
	TypeReference CIMType = "reference"
)

// DateTime holds a CIM datetime value in its 25-character string form
// (either a timestamp or an interval). The codec does not interpret it.
type DateTime string

// Property is a named, typed CIM property value.
//
// Value holds the decoded value: nil means NULL (the property carried no
// VALUE element), scalars are bool, the Go integer type matching the CIM
// width, float32/float64, string, DateTime; references are *InstanceName;
// embedded instances are *Instance; arrays are slices of the scalar type.
// An empty string value is distinct from nil.
type Property struct {
	Name  string
	Type  CIMType
	Value any
}

// Instance is a CIM instance: a class name plus an ordered property list.
// Path is set when the instance arrived together with its instance path.
type Instance struct {
	ClassName  string
	Properties []Property
	Path       *InstanceName
}

// Property returns the named property. CIM names compare
// case-insensitively.
func (i *Instance) Property(name string) (Property, bool) {
	for _, p := range i.Properties {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Property{}, false
}

// KeyBinding is one key of an instance name. Value is a bool, int64,
// uint64, string, or a nested *InstanceName for reference keys.
type KeyBinding struct {
	Name  string
	Value any
}

// InstanceName identifies a CIM instance: class name plus key bindings,
// optionally qualified with a namespace and host.
type InstanceName struct {
	ClassName   string
	KeyBindings []KeyBinding
	Namespace   string
	Host        string
}

// KeyBinding returns the named key binding, comparing case-insensitively.
func (n *InstanceName) KeyBinding(name string) (KeyBinding, bool) {
	for _, kb := range n.KeyBindings {
		if strings.EqualFold(kb.Name, name) {
			return kb, true
		}
	}
	return KeyBinding{}, false
}

// String renders the instance name in WBEM URI style for logs and errors.
func (n InstanceName) String() string {
	var sb strings.Builder
	if n.Host != "" {
		sb.WriteString("//")
		sb.WriteString(n.Host)
		sb.WriteString("/")
	}
	if n.Namespace != "" {
		sb.WriteString(n.Namespace)
		sb.WriteString(":")
	}
	sb.WriteString(n.ClassName)
	for i, kb := range n.KeyBindings {
		if i == 0 {
			sb.WriteString(".")
		} else {
			sb.WriteString(",")
		}
		sb.WriteString(kb.Name)
		sb.WriteString("=")
		switch v := kb.Value.(type) {
		case string:
			fmt.Fprintf(&sb, "%q", v)
		case *InstanceName:
			fmt.Fprintf(&sb, "%q", v.String())
		default:
			fmt.Fprintf(&sb, "%v", v)
		}
	}
	return sb.String()
}

// ClassName marks a parameter value that encodes as a CLASSNAME element
// rather than a string literal.
type ClassName string

// NamedInstance wraps an instance rendered together with its instance
// name (VALUE.NAMEDINSTANCE), as ModifyInstance requires.
type NamedInstance struct {
	Instance *Instance
}

// Param is one named parameter of a method call.
type Param struct {
	Name  string
	Value any
}

// InferType maps a decoded Go value to its CIM type. It reports an error
// for values the codec cannot represent on the wire.
func InferType(v any) (CIMType, error) {
	switch v.(type) {
	case bool, []bool:
		return TypeBoolean, nil
	case string, []string:
		return TypeString, nil
	case uint8, []uint8:
		return TypeUint8, nil
	case uint16, []uint16:
		return TypeUint16, nil
	case uint32, []uint32:
		return TypeUint32, nil
	case uint64, []uint64:
		return TypeUint64, nil
	case int8, []int8:
		return TypeSint8, nil
	case int16, []int16:
		return TypeSint16, nil
	case int32, []int32:
		return TypeSint32, nil
	case int64, []int64:
		return TypeSint64, nil
	case float32, []float32:
		return TypeReal32, nil
	case float64, []float64:
		return TypeReal64, nil
	case DateTime, []DateTime:
		return TypeDateTime, nil
	case *InstanceName, []*InstanceName:
		return TypeReference, nil
	default:
		return "", fmt.Errorf("cimxml: unsupported value type %T", v)
	}
}
