package cimxml

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// ExportRequest is a decoded indication export: the exported instance
// plus the message ID to echo in the acknowledgment.
type ExportRequest struct {
	MessageID  string
	Indication Instance
}

// EncodeExportIndication builds the SIMPLEEXPREQ payload delivering one
// indication instance to a listener.
func EncodeExportIndication(messageID uint64, indication *Instance) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(xmlDeclaration)
	writeMessageOpen(buf, messageID)
	buf.WriteString(`<SIMPLEEXPREQ><EXPMETHODCALL NAME="`)
	buf.WriteString(ExportMethodIndication)
	buf.WriteString(`"><EXPPARAMVALUE NAME="NewIndication">`)
	if err := writeInstance(buf, indication); err != nil {
		return nil, fmt.Errorf("encode indication: %w", err)
	}
	buf.WriteString(`</EXPPARAMVALUE></EXPMETHODCALL></SIMPLEEXPREQ>`)
	writeMessageClose(buf)
	return buf.Bytes(), nil
}

// DecodeExportRequest decodes an inbound ExportIndication payload. Any
// body that is not a well-formed SIMPLEEXPREQ carrying one indication
// instance yields a *MalformedResponseError.
func DecodeExportRequest(data []byte) (*ExportRequest, error) {
	var env exportEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, malformed("invalid XML", err)
	}
	req := env.Message.SimpleExpReq
	if req == nil {
		return nil, malformed("missing SIMPLEEXPREQ element", nil)
	}
	call := req.ExpMethodCall
	if call == nil || call.Name != ExportMethodIndication {
		return nil, malformed("missing ExportIndication method call", nil)
	}
	if call.ExpParamValue == nil || call.ExpParamValue.Instance == nil {
		return nil, malformed("missing NewIndication instance", nil)
	}

	inst, err := convertInstance(call.ExpParamValue.Instance)
	if err != nil {
		return nil, err
	}
	return &ExportRequest{MessageID: env.Message.ID, Indication: inst}, nil
}

// EncodeExportResponse builds the SIMPLEEXPRSP acknowledgment for an
// export request, echoing its message ID. The protocol defines no
// meaningful response body beyond this minimal success envelope.
func EncodeExportResponse(messageID string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(xmlDeclaration)
	fmt.Fprintf(buf, `<CIM CIMVERSION="%s" DTDVERSION="%s"><MESSAGE ID="`, CIMVersion, DTDVersion)
	escapeTo(buf, messageID)
	fmt.Fprintf(buf, `" PROTOCOLVERSION="%s">`, ProtocolVersion)
	buf.WriteString(`<SIMPLEEXPRSP><EXPMETHODRESPONSE NAME="`)
	buf.WriteString(ExportMethodIndication)
	buf.WriteString(`"/></SIMPLEEXPRSP>`)
	writeMessageClose(buf)
	return buf.Bytes()
}

type exportEnvelope struct {
	XMLName xml.Name      `xml:"CIM"`
	Message exportMessage `xml:"MESSAGE"`
}

type exportMessage struct {
	ID           string        `xml:"ID,attr"`
	SimpleExpReq *simpleExpReq `xml:"SIMPLEEXPREQ"`
}

type simpleExpReq struct {
	ExpMethodCall *expMethodCall `xml:"EXPMETHODCALL"`
}

type expMethodCall struct {
	Name          string         `xml:"NAME,attr"`
	ExpParamValue *expParamValue `xml:"EXPPARAMVALUE"`
}

type expParamValue struct {
	Name     string       `xml:"NAME,attr"`
	Instance *xmlInstance `xml:"INSTANCE"`
}
