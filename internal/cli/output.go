package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Output печатает результаты команд.
//
// Данные (таблицы, артефакт, JSON) идут в stdout, чтобы их можно было
// передать дальше по pipe. Подсказки и предупреждения идут в stderr.
type Output struct {
	jsonMode bool
	w        io.Writer
	errW     io.Writer
}

// NewOutput пишет в os.Stdout и os.Stderr.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(jsonMode, os.Stdout, os.Stderr)
}

// NewOutputTo пишет в заданные потоки.
func NewOutputTo(jsonMode bool, w, errW io.Writer) *Output {
	return &Output{jsonMode: jsonMode, w: w, errW: errW}
}

// IsJSON возвращает true в режиме --json.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// Print выводит таблицу или jsonData целиком в режиме --json.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	o.Table(headers, rows)
}

// Table выводит выровненную таблицу. Пустая ячейка печатается как "-",
// чтобы колонки не съезжали при разборе вывода через awk.
func (o *Output) Table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		o.Notef("no results")
		return
	}

	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = cell
			if strings.TrimSpace(cell) == "" {
				cells[i] = "-"
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
}

// Details выводит пары "ключ: значение" одной колонкой.
func (o *Output) Details(pairs [][2]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 1, ' ', 0)
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		fmt.Fprintf(tw, "%s:\t%s\n", p[0], p[1])
	}
	_ = tw.Flush()
}

// JSON выводит v с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Text выводит текст как есть (например, артефакт синтеза).
func (o *Output) Text(text string) {
	fmt.Fprintln(o.w, text)
}

// Notef пишет подсказку в stderr.
func (o *Output) Notef(format string, args ...any) {
	fmt.Fprintf(o.errW, format+"\n", args...)
}

// Warnf пишет предупреждение в stderr.
func (o *Output) Warnf(format string, args ...any) {
	fmt.Fprintf(o.errW, "warning: "+format+"\n", args...)
}
