package repo

import (
	"context"
	"database/sql"
	"strings"

	"quoteline/internal/domain"
)

// Catalog and user directory. These are plain record stores consumed by the
// workflow for reference validation and recipient resolution.

func (r Repo) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO products(id,name,unit,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, unit=excluded.unit`,
		p.ID, p.Name, nullable(p.Unit), p.CreatedAt)
	return err
}

func (r Repo) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var p domain.Product
	var unit sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,unit,created_at FROM products WHERE id=?`, id).
		Scan(&p.ID, &p.Name, &unit, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if unit.Valid {
		p.Unit = unit.String
	}
	return p, err
}

func (r Repo) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(unit,''),created_at FROM products ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Unit, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) ProductExistsTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id=? LIMIT 1`, id)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) UpsertSupplier(ctx context.Context, s domain.Supplier) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO suppliers(id,name,created_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
		s.ID, s.Name, s.CreatedAt)
	return err
}

func (r Repo) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM suppliers ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Supplier
	for rows.Next() {
		var s domain.Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) SupplierExistsTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM suppliers WHERE id=? LIMIT 1`, id)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,role,created_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role`,
		u.ID, nullable(u.Name), u.Role, u.CreatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var name sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,role,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &name, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if name.Valid {
		u.Name = name.String
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context, roles []string) ([]domain.User, error) {
	query := `SELECT id,COALESCE(name,''),role,created_at FROM users`
	var args []any
	if len(roles) > 0 {
		placeholders := make([]string, len(roles))
		for i, role := range roles {
			placeholders[i] = "?"
			args = append(args, role)
		}
		query += ` WHERE role IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
