// Package sheets reads the user points ledger from a Google spreadsheet.
// The sheet has a header row and one row per user: Username | Tokens.
package sheets

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"
)

// Ledger answers balance lookups against one spreadsheet range.
type Ledger struct {
	svc           *sheets.Service
	spreadsheetID string
	readRange     string
}

// New builds a Ledger authenticated with a service-account JSON key file.
func New(ctx context.Context, credentialsFile, spreadsheetID, readRange string) (*Ledger, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("missing spreadsheet id")
	}
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read sheet credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse sheet credentials: %w", err)
	}
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, spreadsheetID, readRange), nil
}

// NewWithService wraps an already-authenticated service (used by tests).
func NewWithService(svc *sheets.Service, spreadsheetID, readRange string) *Ledger {
	if readRange == "" {
		readRange = "Sheet1!A:B"
	}
	return &Ledger{svc: svc, spreadsheetID: spreadsheetID, readRange: readRange}
}

// GetPoints returns the token balance for username, matched case-insensitively.
// A user absent from the sheet has a balance of 0, and a stored zero reads as
// zero rather than an error. Only transport/API failures and malformed cells
// return an error.
func (l *Ledger) GetPoints(ctx context.Context, username string) (int64, error) {
	resp, err := l.svc.Spreadsheets.Values.Get(l.spreadsheetID, l.readRange).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("sheet read: %w", err)
	}
	for i, row := range resp.Values {
		if i == 0 || len(row) == 0 {
			// header row or blank padding
			continue
		}
		name, _ := row[0].(string)
		if !strings.EqualFold(strings.TrimSpace(name), username) {
			continue
		}
		if len(row) < 2 {
			return 0, nil
		}
		return parsePoints(row[1])
	}
	return 0, nil
}

func parsePoints(cell any) (int64, error) {
	switch v := cell.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return n, nil
		}
		// formatted cells can render as floats
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, fmt.Errorf("malformed token cell %q", v)
		}
		return int64(f), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected token cell type %T", cell)
	}
}
