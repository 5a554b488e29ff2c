package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"path"
	"strconv"
	"strings"
)

type xlsxSharedStrings struct {
	Items []struct {
		Text string `xml:"t"`
		Runs []struct {
			Text string `xml:"t"`
		} `xml:"r"`
	} `xml:"si"`
}

type xlsxWorkbook struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		RID  string `xml:"id,attr"`
	} `xml:"sheets>sheet"`
}

type xlsxRels struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

type xlsxSheet struct {
	Rows []struct {
		Cells []struct {
			Ref    string `xml:"r,attr"`
			Type   string `xml:"t,attr"`
			Value  string `xml:"v"`
			Inline string `xml:"is>t"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
}

// parseXLSX renders every sheet as a "## <name>" section of tab-separated
// rows and returns the number of sheets.
func parseXLSX(data []byte) (string, int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}

	var shared []string
	if raw, err := readZipPart(zr, "xl/sharedStrings.xml"); err == nil {
		var sst xlsxSharedStrings
		if err := xml.Unmarshal(raw, &sst); err != nil {
			return "", 0, fmt.Errorf("shared strings: %w", err)
		}
		for _, si := range sst.Items {
			s := si.Text
			for _, r := range si.Runs {
				s += r.Text
			}
			shared = append(shared, s)
		}
	}

	raw, err := readZipPart(zr, "xl/workbook.xml")
	if err != nil {
		return "", 0, err
	}
	var wb xlsxWorkbook
	if err := xml.Unmarshal(raw, &wb); err != nil {
		return "", 0, fmt.Errorf("workbook: %w", err)
	}
	targets := map[string]string{}
	if raw, err := readZipPart(zr, "xl/_rels/workbook.xml.rels"); err == nil {
		var rels xlsxRels
		if err := xml.Unmarshal(raw, &rels); err == nil {
			for _, r := range rels.Items {
				targets[r.ID] = r.Target
			}
		}
	}

	var sections []string
	for i, s := range wb.Sheets {
		part := sheetPart(targets[s.RID], i)
		raw, err := readZipPart(zr, part)
		if err != nil {
			continue
		}
		var sheet xlsxSheet
		if err := xml.Unmarshal(raw, &sheet); err != nil {
			continue
		}
		var rows []string
		for _, row := range sheet.Rows {
			var cells []string
			for _, c := range row.Cells {
				if col := columnIndex(c.Ref); col > len(cells) {
					cells = append(cells, make([]string, col-len(cells))...)
				}
				cells = append(cells, cellText(c.Type, c.Value, c.Inline, shared))
			}
			line := strings.TrimRight(strings.Join(cells, "\t"), "\t")
			if strings.TrimSpace(line) != "" {
				rows = append(rows, line)
			}
		}
		sections = append(sections, "## "+s.Name+"\n"+strings.Join(rows, "\n"))
	}
	return strings.Join(sections, "\n\n"), len(wb.Sheets), nil
}

func sheetPart(target string, i int) string {
	switch {
	case target == "":
		return fmt.Sprintf("xl/worksheets/sheet%d.xml", i+1)
	case strings.HasPrefix(target, "/"):
		return strings.TrimPrefix(target, "/")
	default:
		return path.Join("xl", target)
	}
}

func cellText(typ, value, inline string, shared []string) string {
	switch typ {
	case "s":
		idx, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || idx < 0 || idx >= len(shared) {
			return ""
		}
		return shared[idx]
	case "inlineStr":
		return inline
	case "b":
		if value == "1" {
			return "TRUE"
		}
		return "FALSE"
	default:
		return value
	}
}

// columnIndex converts the letters of a cell reference ("C7") to a
// zero-based column. It returns -1 when ref carries no column.
func columnIndex(ref string) int {
	col := 0
	n := 0
	for _, r := range ref {
		if r < 'A' || r > 'Z' {
			break
		}
		col = col*26 + int(r-'A'+1)
		n++
	}
	if n == 0 {
		return -1
	}
	return col - 1
}
