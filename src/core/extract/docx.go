package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// extractDOCX reads the main document part of a DOCX container and collects
// the text runs. Paragraphs become lines, table cells are tab separated so
// table content survives extraction as plain text.
func extractDOCX(_ context.Context, data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: not a valid docx container: %v", ErrCorruptFile, err)
	}

	var docPart *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docPart = f
			break
		}
	}
	if docPart == nil {
		return "", fmt.Errorf("%w: docx is missing word/document.xml", ErrCorruptFile)
	}

	rc, err := docPart.Open()
	if err != nil {
		return "", fmt.Errorf("%w: failed to open document part: %v", ErrCorruptFile, err)
	}
	defer rc.Close()

	text, err := decodeDocumentXML(rc)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no text found in docx file", ErrCorruptFile)
	}

	return text, nil
}

func decodeDocumentXML(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var sb strings.Builder
	inRun := false

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: malformed document xml: %v", ErrCorruptFile, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inRun = true
			}
		case xml.CharData:
			if inRun {
				sb.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				sb.WriteString("\n")
			case "tc":
				sb.WriteString("\t")
			}
		}
	}

	return sb.String(), nil
}
