// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"encoding/xml"
	"html"
	"regexp"
	"strings"
)

var xmlDeclarationPattern = regexp.MustCompile(`^\s*<\?xml[^>]*\?>`)

// payloadXML returns the XML document of a payload as the server sends
// it: entity-escaped, with <br/> separators between the lines of the
// document. Payloads that are already XML pass through unescaped. The
// XML declaration is dropped; its encoding label is not always one the
// decoder supports, and the payload is UTF-8 regardless.
func payloadXML(content string) string {
	content = lineBreakPattern.ReplaceAllString(content, "\n")
	if strings.Contains(content, "&lt;") {
		content = html.UnescapeString(content)
	}
	return xmlDeclarationPattern.ReplaceAllString(content, "")
}

func newLenientDecoder(content string) *xml.Decoder {
	decoder := xml.NewDecoder(strings.NewReader(content))
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity
	return decoder
}

// ParseRecall extracts the withdrawn message id and the replacement
// text from a recall notice payload. The payload may be a complete
// sysmsg document or a fragment; ok is false when no message id is
// present.
func ParseRecall(content string) (recall Recall, ok bool) {
	decoder := newLenientDecoder(payloadXML(content))
	var current string
	for {
		token, err := decoder.Token()
		if err != nil {
			// io.EOF or a syntax error past the fields we need.
			break
		}
		switch token := token.(type) {
		case xml.StartElement:
			current = token.Name.Local
		case xml.EndElement:
			current = ""
		case xml.CharData:
			switch current {
			case "msgid":
				if recall.MsgID == "" {
					recall.MsgID = strings.TrimSpace(string(token))
				}
			case "replacemsg":
				recall.ReplaceText += string(token)
			}
		}
	}
	recall.ReplaceText = strings.TrimSpace(recall.ReplaceText)
	return recall, recall.MsgID != ""
}

type appMessageXML struct {
	AppMsg struct {
		AppID     string `xml:"appid,attr"`
		Title     string `xml:"title"`
		Des       string `xml:"des"`
		URL       string `xml:"url"`
		AppAttach struct {
			TotalLen int64  `xml:"totallen"`
			AttachID string `xml:"attachid"`
			FileExt  string `xml:"fileext"`
		} `xml:"appattach"`
		WCPayInfo *struct {
			PaySubType int    `xml:"paysubtype"`
			FeeDesc    string `xml:"feedesc"`
			TransferID string `xml:"transferid"`
		} `xml:"wcpayinfo"`
	} `xml:"appmsg"`
}

// parseAppDetail extracts the structured fields of an app message
// payload. Fields it cannot find are left empty.
func parseAppDetail(content string) AppDetail {
	var parsed appMessageXML
	decoder := newLenientDecoder(payloadXML(strings.TrimSpace(content)))
	// Skip anything ahead of the document element. A decode error
	// leaves the fields read before it in place.
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local == "msg" {
			_ = decoder.DecodeElement(&parsed, &start)
			break
		}
		if start.Name.Local == "appmsg" {
			_ = decoder.DecodeElement(&parsed.AppMsg, &start)
			break
		}
	}

	app := parsed.AppMsg
	detail := AppDetail{
		AppID:       app.AppID,
		Title:       strings.TrimSpace(app.Title),
		Description: strings.TrimSpace(app.Des),
		URL:         strings.TrimSpace(app.URL),
		AttachID:    strings.TrimSpace(app.AppAttach.AttachID),
		FileExt:     strings.TrimSpace(app.AppAttach.FileExt),
		TotalLen:    app.AppAttach.TotalLen,
	}
	if app.WCPayInfo != nil {
		detail.Transfer = &Transfer{
			FeeDescription: strings.TrimSpace(app.WCPayInfo.FeeDesc),
			PaySubType:     app.WCPayInfo.PaySubType,
			TransferID:     strings.TrimSpace(app.WCPayInfo.TransferID),
		}
	}
	return detail
}
