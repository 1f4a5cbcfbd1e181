package imageserver

import (
	"bytes"
	"fmt"
)

// Method names understood by the ImageServer protocol.
const (
	methodConnect = "connect"
	methodGoto    = "goto"
	methodNext    = "next"
)

// terminator separates requests and responses on the wire. It also ends the
// header block of every response.
var terminator = []byte("\r\n\r\n")

// element is a single named value inside a methodcall request. Order is
// significant on the wire, so requests carry a slice rather than a map.
type element struct {
	name  string
	value string
}

// encodeMethodCall builds a methodcall request as a single line followed by
// the double-CRLF terminator. The server requires the XML body to contain no
// line breaks.
func encodeMethodCall(requestID uint64, method string, elements []element) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	buf.WriteString("<methodcall>")
	fmt.Fprintf(&buf, "<requestid>%d</requestid>", requestID)
	fmt.Fprintf(&buf, "<methodname>%s</methodname>", method)
	for _, el := range elements {
		fmt.Fprintf(&buf, "<%s>%s</%s>", el.name, el.value, el.name)
	}
	buf.WriteString("</methodcall>")
	buf.Write(terminator)
	return buf.Bytes()
}
