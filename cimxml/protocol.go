// Package cimxml implements the CIM-XML payload encoding defined by DMTF
// DSP0200/DSP0201: intrinsic method call envelopes, response decoding,
// operation faults, and indication export payloads.
package cimxml

// Protocol version constants carried in every CIM-XML message.
const (
	// CIMVersion is the CIMVERSION attribute of the CIM root element.
	CIMVersion = "2.0"

	// DTDVersion is the DTDVERSION attribute of the CIM root element.
	DTDVersion = "2.0"

	// ProtocolVersion is the PROTOCOLVERSION attribute of MESSAGE elements.
	ProtocolVersion = "1.0"
)

// HTTP header names and values used by CIM-XML operation requests
// (DSP0200 section 6).
const (
	// HdrOperation marks a request as a CIM operation request.
	HdrOperation = "CIMOperation"

	// HdrOperationMethodCall is the CIMOperation value for method calls.
	HdrOperationMethodCall = "MethodCall"

	// HdrMethod carries the intrinsic or extrinsic method name.
	HdrMethod = "CIMMethod"

	// HdrObject carries the namespace or object the method targets.
	HdrObject = "CIMObject"

	// HdrProtocolVersion carries the CIM-XML protocol version.
	HdrProtocolVersion = "CIMProtocolVersion"

	// HdrExport marks a request as a CIM export request (indications).
	HdrExport = "CIMExport"

	// HdrExportMethodRequest is the CIMExport value for export method calls.
	HdrExportMethodRequest = "MethodRequest"

	// HdrExportMethod carries the export method name.
	HdrExportMethod = "CIMExportMethod"

	// ExportMethodIndication is the export method delivering an indication.
	ExportMethodIndication = "ExportIndication"
)

// ContentTypeCIMXML is the Content-Type for CIM-XML payloads.
const ContentTypeCIMXML = `application/xml; charset="utf-8"`

// xmlDeclaration prefixes every encoded payload.
const xmlDeclaration = `<?xml version="1.0" encoding="utf-8" ?>` + "\n"
