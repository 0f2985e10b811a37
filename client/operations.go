package client

import (
	"context"
	"fmt"

	"github.com/smnsjas/go-wbem/cimxml"
)

// Bool returns a pointer to b, for optional boolean parameters.
func Bool(b bool) *bool { return &b }

// Uint32 returns a pointer to n, for optional counted parameters. A
// pointer to zero is distinct from nil: on Open it means "return no
// objects in this exchange", while nil lets the server choose.
func Uint32(n uint32) *uint32 { return &n }

// EnumerateOptions narrows instance-enumeration results.
type EnumerateOptions struct {
	DeepInheritance   *bool
	LocalOnly         *bool
	IncludeQualifiers *bool
	IncludeClassOrigin *bool
	PropertyList      []string
}

func (o *EnumerateOptions) params() []cimxml.Param {
	if o == nil {
		return nil
	}
	return []cimxml.Param{
		optBool("DeepInheritance", o.DeepInheritance),
		optBool("LocalOnly", o.LocalOnly),
		optBool("IncludeQualifiers", o.IncludeQualifiers),
		optBool("IncludeClassOrigin", o.IncludeClassOrigin),
		optStrings("PropertyList", o.PropertyList),
	}
}

// AssociatorOptions filters association traversal.
type AssociatorOptions struct {
	AssocClass         string
	ResultClass        string
	Role               string
	ResultRole         string
	IncludeQualifiers  *bool
	IncludeClassOrigin *bool
	PropertyList       []string
}

func (o *AssociatorOptions) params() []cimxml.Param {
	if o == nil {
		return nil
	}
	return []cimxml.Param{
		optClassName("AssocClass", o.AssocClass),
		optClassName("ResultClass", o.ResultClass),
		optString("Role", o.Role),
		optString("ResultRole", o.ResultRole),
		optBool("IncludeQualifiers", o.IncludeQualifiers),
		optBool("IncludeClassOrigin", o.IncludeClassOrigin),
		optStrings("PropertyList", o.PropertyList),
	}
}

// ReferenceOptions filters reference traversal.
type ReferenceOptions struct {
	ResultClass        string
	Role               string
	IncludeQualifiers  *bool
	IncludeClassOrigin *bool
	PropertyList       []string
}

func (o *ReferenceOptions) params() []cimxml.Param {
	if o == nil {
		return nil
	}
	return []cimxml.Param{
		optClassName("ResultClass", o.ResultClass),
		optString("Role", o.Role),
		optBool("IncludeQualifiers", o.IncludeQualifiers),
		optBool("IncludeClassOrigin", o.IncludeClassOrigin),
		optStrings("PropertyList", o.PropertyList),
	}
}

// GetInstance retrieves one instance by its path.
func (c *Connection) GetInstance(ctx context.Context, path *cimxml.InstanceName, opts *EnumerateOptions) (*cimxml.Instance, error) {
	params := append([]cimxml.Param{{Name: "InstanceName", Value: path}}, opts.params()...)
	resp, err := c.invoke(ctx, "GetInstance", params)
	if err != nil {
		return nil, err
	}
	if len(resp.Instances) == 0 {
		return nil, &cimxml.MalformedResponseError{Reason: "GetInstance response without instance"}
	}
	inst := resp.Instances[0]
	if inst.Path == nil {
		inst.Path = path
	}
	return &inst, nil
}

// EnumerateInstances retrieves all instances of a class in one exchange.
func (c *Connection) EnumerateInstances(ctx context.Context, className string, opts *EnumerateOptions) ([]cimxml.Instance, error) {
	params := append([]cimxml.Param{{Name: "ClassName", Value: cimxml.ClassName(className)}}, opts.params()...)
	resp, err := c.invoke(ctx, "EnumerateInstances", params)
	if err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

// EnumerateInstanceNames retrieves all instance paths of a class in one
// exchange.
func (c *Connection) EnumerateInstanceNames(ctx context.Context, className string) ([]cimxml.InstanceName, error) {
	resp, err := c.invoke(ctx, "EnumerateInstanceNames", []cimxml.Param{
		{Name: "ClassName", Value: cimxml.ClassName(className)},
	})
	if err != nil {
		return nil, err
	}
	return resp.Paths, nil
}

// Associators retrieves the instances associated with a source instance.
func (c *Connection) Associators(ctx context.Context, source *cimxml.InstanceName, opts *AssociatorOptions) ([]cimxml.Instance, error) {
	params := append([]cimxml.Param{{Name: "ObjectName", Value: source}}, opts.params()...)
	resp, err := c.invoke(ctx, "Associators", params)
	if err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

// AssociatorNames retrieves the paths of instances associated with a
// source instance.
func (c *Connection) AssociatorNames(ctx context.Context, source *cimxml.InstanceName, opts *AssociatorOptions) ([]cimxml.InstanceName, error) {
	params := []cimxml.Param{{Name: "ObjectName", Value: source}}
	if opts != nil {
		params = append(params,
			optClassName("AssocClass", opts.AssocClass),
			optClassName("ResultClass", opts.ResultClass),
			optString("Role", opts.Role),
			optString("ResultRole", opts.ResultRole),
		)
	}
	resp, err := c.invoke(ctx, "AssociatorNames", params)
	if err != nil {
		return nil, err
	}
	return resp.Paths, nil
}

// References retrieves the association instances referring to a source
// instance.
func (c *Connection) References(ctx context.Context, source *cimxml.InstanceName, opts *ReferenceOptions) ([]cimxml.Instance, error) {
	params := append([]cimxml.Param{{Name: "ObjectName", Value: source}}, opts.params()...)
	resp, err := c.invoke(ctx, "References", params)
	if err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

// ReferenceNames retrieves the paths of association instances referring
// to a source instance.
func (c *Connection) ReferenceNames(ctx context.Context, source *cimxml.InstanceName, opts *ReferenceOptions) ([]cimxml.InstanceName, error) {
	params := []cimxml.Param{{Name: "ObjectName", Value: source}}
	if opts != nil {
		params = append(params,
			optClassName("ResultClass", opts.ResultClass),
			optString("Role", opts.Role),
		)
	}
	resp, err := c.invoke(ctx, "ReferenceNames", params)
	if err != nil {
		return nil, err
	}
	return resp.Paths, nil
}

// CreateInstance creates an instance and returns its server-assigned
// path.
func (c *Connection) CreateInstance(ctx context.Context, instance *cimxml.Instance) (*cimxml.InstanceName, error) {
	resp, err := c.invoke(ctx, "CreateInstance", []cimxml.Param{
		{Name: "NewInstance", Value: instance},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Paths) == 0 {
		return nil, &cimxml.MalformedResponseError{Reason: "CreateInstance response without instance name"}
	}
	path := resp.Paths[0]
	return &path, nil
}

// ModifyInstance replaces the property values of an existing instance.
// The instance must carry its path.
func (c *Connection) ModifyInstance(ctx context.Context, instance *cimxml.Instance) error {
	if instance.Path == nil {
		return fmt.Errorf("wbem: ModifyInstance requires an instance path")
	}
	_, err := c.invoke(ctx, "ModifyInstance", []cimxml.Param{
		{Name: "ModifiedInstance", Value: cimxml.NamedInstance{Instance: instance}},
	})
	return err
}

// DeleteInstance removes an instance by its path.
func (c *Connection) DeleteInstance(ctx context.Context, path *cimxml.InstanceName) error {
	_, err := c.invoke(ctx, "DeleteInstance", []cimxml.Param{
		{Name: "InstanceName", Value: path},
	})
	return err
}

// GetClass retrieves a class definition. The definition is opaque to
// this client; callers that need its structure parse Class.XML.
func (c *Connection) GetClass(ctx context.Context, className string, opts *EnumerateOptions) (*cimxml.Class, error) {
	params := append([]cimxml.Param{{Name: "ClassName", Value: cimxml.ClassName(className)}}, opts.params()...)
	resp, err := c.invoke(ctx, "GetClass", params)
	if err != nil {
		return nil, err
	}
	if len(resp.Classes) == 0 {
		return nil, &cimxml.MalformedResponseError{Reason: "GetClass response without class"}
	}
	cls := resp.Classes[0]
	return &cls, nil
}

// EnumerateClassNames lists class names below the given class, or the
// top-level classes when className is empty.
func (c *Connection) EnumerateClassNames(ctx context.Context, className string, deepInheritance *bool) ([]string, error) {
	params := []cimxml.Param{optBool("DeepInheritance", deepInheritance)}
	if className != "" {
		params = append(params, cimxml.Param{Name: "ClassName", Value: cimxml.ClassName(className)})
	}
	resp, err := c.invoke(ctx, "EnumerateClassNames", params)
	if err != nil {
		return nil, err
	}
	return resp.ClassNames, nil
}

// InvokeMethod calls an extrinsic method on an instance (*InstanceName
// target) or a class (cimxml.ClassName target). It returns the method's
// return value and output parameters.
func (c *Connection) InvokeMethod(ctx context.Context, target any, method string, params []cimxml.Param) (any, []cimxml.Param, error) {
	resp, err := c.invokeExt(ctx, method, target, params)
	if err != nil {
		return nil, nil, err
	}
	return resp.ReturnValue, resp.OutParams, nil
}

func optBool(name string, v *bool) cimxml.Param {
	if v == nil {
		return cimxml.Param{Name: name}
	}
	return cimxml.Param{Name: name, Value: *v}
}

func optString(name, v string) cimxml.Param {
	if v == "" {
		return cimxml.Param{Name: name}
	}
	return cimxml.Param{Name: name, Value: v}
}

func optClassName(name, v string) cimxml.Param {
	if v == "" {
		return cimxml.Param{Name: name}
	}
	return cimxml.Param{Name: name, Value: cimxml.ClassName(v)}
}

func optStrings(name string, v []string) cimxml.Param {
	if v == nil {
		return cimxml.Param{Name: name}
	}
	return cimxml.Param{Name: name, Value: v}
}

func optUint32(name string, v *uint32) cimxml.Param {
	if v == nil {
		return cimxml.Param{Name: name}
	}
	return cimxml.Param{Name: name, Value: *v}
}
