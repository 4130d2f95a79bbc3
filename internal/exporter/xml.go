package exporter

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/ginjaninja78/blood-test-parser/internal/types"
)

// =============================================================================
// XML GENERATION OPTIONS
// =============================================================================

// XMLOptions contains options for XML generation.
//
// XML STRUCTURE:
//
//	<bloodTests source="template.xlsx">
//	  <test name="Sodium" unit="mmol/L" range="135-145">
//	    <result date="2020-04-15" header="15/04/2020">140</result>
//	    <field name="Notes">fasted</field>
//	  </test>
//	</bloodTests>
type XMLOptions struct {
	// Indent is the string used for indentation.
	Indent string

	// IncludeDeclaration adds the <?xml ...?> header.
	IncludeDeclaration bool

	// IncludeEmptyResults writes <result/> for empty date cells.
	IncludeEmptyResults bool
}

// DefaultXMLOptions returns the default XML options.
func DefaultXMLOptions() XMLOptions {
	return XMLOptions{
		Indent:             "  ",
		IncludeDeclaration: true,
	}
}

// xmlElement is a minimal element tree written in a fixed order.
type xmlElement struct {
	Name       string
	Attributes []xml.Attr
	Children   []xmlElement
	Value      string
}

// MarshalXML renders the table as XML.
func MarshalXML(table *types.Table, options XMLOptions) ([]byte, error) {
	root := xmlElement{Name: "bloodTests"}
	if table.Source != "" {
		root.Attributes = append(root.Attributes, attr("source", table.Source))
	}
	if table.Sheet != "" {
		root.Attributes = append(root.Attributes, attr("sheet", table.Sheet))
	}

	for i := range table.Rows {
		root.Children = append(root.Children, buildTestElement(table, &table.Rows[i], options))
	}

	var buffer bytes.Buffer
	if options.IncludeDeclaration {
		buffer.WriteString(xml.Header)
	}
	if err := writeElement(&buffer, root, options.Indent, 0); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func buildTestElement(table *types.Table, row *types.Row, options XMLOptions) xmlElement {
	el := xmlElement{
		Name:       "test",
		Attributes: []xml.Attr{attr("name", row.Test)},
	}
	if row.Units != "" {
		el.Attributes = append(el.Attributes, attr("unit", row.Units))
	}
	if row.RefRange != "" {
		el.Attributes = append(el.Attributes, attr("range", row.RefRange))
	}

	for _, col := range table.Columns {
		v := row.Cell(col.Key)
		switch col.Kind {
		case types.ColumnDate:
			if v == "" && !options.IncludeEmptyResults {
				continue
			}
			res := xmlElement{Name: "result", Value: v, Attributes: []xml.Attr{attr("date", col.Key)}}
			if col.Header != "" && col.Header != col.Key {
				res.Attributes = append(res.Attributes, attr("header", col.Header))
			}
			el.Children = append(el.Children, res)
		case types.ColumnOther, types.ColumnBlank:
			if v == "" {
				continue
			}
			el.Children = append(el.Children, xmlElement{
				Name:       "field",
				Value:      v,
				Attributes: []xml.Attr{attr("name", col.Header)},
			})
		}
	}
	return el
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// writeElement writes an element to the buffer with indentation.
func writeElement(buffer *bytes.Buffer, element xmlElement, indent string, level int) error {
	for i := 0; i < level; i++ {
		buffer.WriteString(indent)
	}

	buffer.WriteString("<")
	buffer.WriteString(element.Name)
	for _, a := range element.Attributes {
		fmt.Fprintf(buffer, " %s=\"", a.Name.Local)
		if err := xml.EscapeText(buffer, []byte(a.Value)); err != nil {
			return err
		}
		buffer.WriteString("\"")
	}

	if len(element.Children) == 0 && element.Value == "" {
		buffer.WriteString("/>\n")
		return nil
	}
	buffer.WriteString(">")

	if element.Value != "" {
		if err := xml.EscapeText(buffer, []byte(element.Value)); err != nil {
			return err
		}
	} else {
		buffer.WriteString("\n")
		for _, child := range element.Children {
			if err := writeElement(buffer, child, indent, level+1); err != nil {
				return err
			}
		}
		for i := 0; i < level; i++ {
			buffer.WriteString(indent)
		}
	}

	buffer.WriteString("</")
	buffer.WriteString(element.Name)
	buffer.WriteString(">\n")
	return nil
}
