package document

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Kiwi1009/interview-to-quote/internal/models"
)

// Content is a format-neutral document: a title followed by blocks.
type Content struct {
	Title  string
	Blocks []Block
}

// Block is one of Heading, Paragraph, Bullet or Table.
type Block interface{ block() }

type Heading struct {
	Level int // 1 or 2
	Text  string
}

type Paragraph struct{ Text string }

type Bullet struct{ Text string }

type Table struct {
	Header []string
	Rows   [][]string
	// Widths are relative column weights; nil means equal columns.
	Widths []float64
}

func (Heading) block()   {}
func (Paragraph) block() {}
func (Bullet) block()    {}
func (Table) block()     {}

func (c *Content) heading(level int, text string) { c.Blocks = append(c.Blocks, Heading{Level: level, Text: text}) }
func (c *Content) para(format string, args ...interface{}) {
	c.Blocks = append(c.Blocks, Paragraph{Text: fmt.Sprintf(format, args...)})
}
func (c *Content) bullet(text string) { c.Blocks = append(c.Blocks, Bullet{Text: text}) }

// Requirement sections in the order documents present them.
var sectionTitles = []struct {
	Key   string
	Title string
}{
	{"products", "產品資訊"},
	{"workpiece", "工件資訊"},
	{"process", "製程資訊"},
	{"machines", "設備資訊"},
	{"cycle_time", "節拍時間"},
	{"layout", "場地配置"},
	{"constraints", "限制條件"},
	{"options", "偏好選項"},
	{"acceptance", "驗收標準"},
}

const evidenceSnippetLimit = 100

// BuildSpec lays out the requirement specification.
func BuildSpec(c *models.Case, req *models.Requirements) Content {
	doc := Content{Title: "需求規格書"}

	doc.heading(1, "案件資訊")
	doc.para("案件名稱：%s", c.Title)
	if c.Industry != nil && *c.Industry != "" {
		doc.para("產業別：%s", *c.Industry)
	}
	doc.para("建立日期：%s", c.CreatedAt.Format("2006-01-02"))

	doc.heading(1, "需求內容")
	if points := listOf(req.Data["customer_pain_points"]); len(points) > 0 {
		doc.heading(2, "客戶痛點")
		for _, p := range points {
			doc.bullet(p)
		}
	}
	for _, s := range sectionTitles {
		section := models.Section(req.Data, s.Key)
		if len(section) == 0 {
			continue
		}
		doc.heading(2, s.Title)
		for _, k := range sortedKeys(section) {
			if isBlank(section[k]) {
				continue
			}
			doc.para("%s：%s", k, FormatValue(section[k]))
		}
	}
	if qs := listOf(req.Data["open_questions"]); len(qs) > 0 {
		doc.heading(2, "開放問題")
		for _, q := range qs {
			doc.bullet(q)
		}
	}
	return doc
}

// BuildReport lays out a field / value / evidence table.
func BuildReport(c *models.Case, req *models.Requirements) Content {
	doc := Content{Title: "需求報告表"}
	doc.para("案件名稱：%s", c.Title)

	evidence := make(map[string]string, len(req.Evidence))
	for _, ev := range req.Evidence {
		if _, seen := evidence[ev.FieldPath]; !seen {
			evidence[ev.FieldPath] = truncateRunes(ev.Snippet, evidenceSnippetLimit)
		}
	}

	table := Table{Header: []string{"欄位", "內容", "證據"}, Widths: []float64{3, 4, 5}}
	addRow := func(path string, v interface{}) {
		value := "N/A"
		if !isBlank(v) {
			value = FormatValue(v)
		}
		table.Rows = append(table.Rows, []string{path, value, evidence[path]})
	}
	if v, ok := req.Data["customer_pain_points"]; ok {
		addRow("customer_pain_points", v)
	}
	for _, s := range sectionTitles {
		section := models.Section(req.Data, s.Key)
		for _, k := range sortedKeys(section) {
			addRow(s.Key+"."+k, section[k])
		}
	}
	doc.Blocks = append(doc.Blocks, table)
	return doc
}

// BuildQuote lays out one section per plan with items and totals.
func BuildQuote(c *models.Case, plans []*models.Plan) Content {
	doc := Content{Title: "報價單"}
	doc.para("案件名稱：%s", c.Title)
	doc.para("日期：%s", c.CreatedAt.Format("2006-01-02"))

	for _, p := range plans {
		doc.heading(1, fmt.Sprintf("%s - %s", p.Code, p.Name))
		table := Table{
			Header: []string{"類別", "項目名稱", "規格", "數量", "單價（低-高）", "小計（低-高）"},
			Widths: []float64{2, 3, 4, 1.5, 3, 3},
		}
		for _, it := range p.Items {
			spec := ""
			if it.Spec != nil {
				spec = *it.Spec
			}
			var low, high float64
			if it.SubtotalLow != nil {
				low = *it.SubtotalLow
			}
			if it.SubtotalHigh != nil {
				high = *it.SubtotalHigh
			}
			table.Rows = append(table.Rows, []string{
				it.Category,
				it.ItemName,
				spec,
				formatNumber(it.Qty) + " " + it.Unit,
				FormatMoney(it.UnitPriceLow) + " - " + FormatMoney(it.UnitPriceHigh),
				FormatMoney(low) + " - " + FormatMoney(high),
			})
		}
		doc.Blocks = append(doc.Blocks, table)

		t := models.ComputeTotals(p.Items)
		doc.para("小計：%s - %s", FormatMoney(t.SubtotalLow), FormatMoney(t.SubtotalHigh))
		doc.para("預備費（%d%%）：%s", int(models.ContingencyRate*100), FormatMoney(t.Contingency))
		doc.para("合計：%s - %s", FormatMoney(t.TotalLow), FormatMoney(t.TotalHigh))
	}
	return doc
}

// FormatValue renders a requirement value for people.
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "N/A"
	case string:
		return t
	case bool:
		if t {
			return "是"
		}
		return "否"
	case float64:
		return formatNumber(t)
	case int:
		return strconv.Itoa(t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, FormatValue(e))
		}
		return strings.Join(parts, "、")
	case map[string]interface{}:
		parts := make([]string, 0, len(t))
		for _, k := range sortedKeys(t) {
			parts = append(parts, k+"："+FormatValue(t[k]))
		}
		return strings.Join(parts, "；")
	}
	return fmt.Sprint(v)
}

// FormatMoney formats an amount as "$1,234,567".
func FormatMoney(v float64) string {
	neg := v < 0
	s := strconv.FormatInt(int64(math.Round(math.Abs(v))), 10)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-$" + b.String()
	}
	return "$" + b.String()
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func listOf(v interface{}) []string {
	items, _ := v.([]interface{})
	out := make([]string, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]interface{}); ok {
			if q, ok := m["question"].(string); ok {
				out = append(out, q)
				continue
			}
		}
		if !isBlank(it) {
			out = append(out, FormatValue(it))
		}
	}
	return out
}

func isBlank(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
