package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadscout/internal/leads"
)

const leadColumns = `id, keyword, title, url, domain, snippet, email, score, rank,
	activity, last_modified, status, created_at`

// CreateLead inserts one lead. A URL already present surfaces as
// leads.ErrDuplicateURL so callers can treat it as a skip rather than a
// failure.
func (s *Store) CreateLead(ctx context.Context, l leads.Lead) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads(id, keyword, title, url, domain, snippet, email, score,
			rank, activity, last_modified, status, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.Keyword, l.Title, l.URL, l.Domain, l.Snippet, nullStr(l.Email),
		l.Score, l.Rank, string(l.Activity), nullTime(l.LastModified),
		string(l.Status), timeStr(l.CreatedAt),
	)
	if isUniqueViolation(err) {
		return leads.ErrDuplicateURL
	}
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func (s *Store) GetLead(ctx context.Context, id string) (leads.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leads.Lead{}, ErrNotFound
	}
	return l, err
}

// LeadFilter narrows ListLeads. Zero values mean "any".
type LeadFilter struct {
	Status  leads.Status
	Keyword string
	Limit   int
}

// ListLeads returns leads newest first.
func (s *Store) ListLeads(ctx context.Context, f LeadFilter) ([]leads.Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads`
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if strings.TrimSpace(f.Keyword) != "" {
		conds = append(conds, "keyword = ?")
		args = append(args, strings.TrimSpace(f.Keyword))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leads.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpdateLeadStatus records a review decision.
func (s *Store) UpdateLeadStatus(ctx context.Context, id string, status leads.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Domains returns the distinct lead domains. Runs seed their cross-batch
// dedup set from this.
func (s *Store) Domains(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT domain FROM leads`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out[d] = struct{}{}
	}
	return out, rows.Err()
}

// CountLeads counts rows, optionally restricted to one status.
func (s *Store) CountLeads(ctx context.Context, status leads.Status) (int64, error) {
	var (
		n   int64
		err error
	)
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM leads WHERE status = ?`, string(status)).Scan(&n)
	}
	return n, err
}

func scanLead(row rowScanner) (leads.Lead, error) {
	var (
		l            leads.Lead
		email        sql.NullString
		activity     string
		lastModified sql.NullString
		status       string
		createdAt    string
	)
	err := row.Scan(&l.ID, &l.Keyword, &l.Title, &l.URL, &l.Domain, &l.Snippet,
		&email, &l.Score, &l.Rank, &activity, &lastModified, &status, &createdAt)
	if err != nil {
		return leads.Lead{}, err
	}

	l.Email = email.String
	l.Activity = leads.Activity(activity)
	l.Status = leads.Status(status)
	if l.LastModified, err = scanTimePtr(lastModified); err != nil {
		return leads.Lead{}, err
	}
	if l.CreatedAt, err = scanTimeVal(createdAt); err != nil {
		return leads.Lead{}, err
	}
	return l, nil
}
