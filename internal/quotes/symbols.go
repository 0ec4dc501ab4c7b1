package quotes

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	colExchangeCode = "BSE Code"
	colChartSymbol  = "Yahoo Symbol"
)

// SymbolSource resolves exchange codes to chart symbols.
type SymbolSource interface {
	// Resolve returns the code->symbol table. An error means the table itself
	// could not be loaded.
	Resolve(ctx context.Context) (SymbolTable, error)
}

// SymbolTable maps normalized exchange codes to chart symbols.
type SymbolTable map[string]string

// Lookup normalizes code ("500325", " 500325.0") before the lookup.
func (t SymbolTable) Lookup(code string) (string, bool) {
	s, ok := t[normalizeCode(code)]
	return s, ok && s != ""
}

// CSVSymbols loads the reference table from a CSV file on first use and keeps
// it for the process lifetime. Failed loads are retried on the next call.
type CSVSymbols struct {
	path string

	mu    sync.Mutex
	table SymbolTable
}

func NewCSVSymbols(path string) *CSVSymbols { return &CSVSymbols{path: path} }

func (c *CSVSymbols) Resolve(context.Context) (SymbolTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.table != nil {
		return c.table, nil
	}
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("symbol table: %w", err)
	}
	defer f.Close()

	t, err := ParseSymbolCSV(f)
	if err != nil {
		return nil, fmt.Errorf("symbol table %s: %w", c.path, err)
	}
	c.table = t
	return t, nil
}

// ParseSymbolCSV reads a CSV with at least the "BSE Code" and "Yahoo Symbol"
// columns. The first row for a code wins.
func ParseSymbolCSV(r io.Reader) (SymbolTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	codeIdx, symIdx := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")) {
		case colExchangeCode:
			codeIdx = i
		case colChartSymbol:
			symIdx = i
		}
	}
	if codeIdx < 0 || symIdx < 0 {
		return nil, errors.New("missing \"BSE Code\" or \"Yahoo Symbol\" column")
	}

	t := SymbolTable{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if codeIdx >= len(rec) || symIdx >= len(rec) {
			continue
		}
		code := normalizeCode(rec[codeIdx])
		sym := strings.TrimSpace(rec[symIdx])
		if code == "" || sym == "" {
			continue
		}
		if _, dup := t[code]; !dup {
			t[code] = sym
		}
	}
	return t, nil
}

// normalizeCode maps numeric spellings ("500325.0") onto their integer form.
func normalizeCode(code string) string {
	s := strings.TrimSpace(code)
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

// StaticSymbols is an in-memory SymbolSource.
type StaticSymbols SymbolTable

func (s StaticSymbols) Resolve(context.Context) (SymbolTable, error) {
	t := make(SymbolTable, len(s))
	for k, v := range s {
		t[normalizeCode(k)] = v
	}
	return t, nil
}
