package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"civicportal/internal/config"
	"civicportal/internal/models"
)

var identRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLDirectory reads principals from an external municipal account
// database over MySQL or Postgres. Table and column names come from
// configuration and are validated as bare identifiers before being
// spliced into queries.
type SQLDirectory struct {
	db           *sql.DB
	driver       string
	staffTable   string
	citizenTable string
	idCol        string
	nameCol      string
	emailCol     string
	passCol      string
	roleCol      string
}

// New returns the directory backend selected by configuration: the
// external SQL directory when a driver and DSN are set, otherwise the
// local tables.
func New(cfg config.Config, appDB *sql.DB) (Directory, error) {
	if strings.TrimSpace(cfg.DirectoryDBDriver) == "" || strings.TrimSpace(cfg.DirectoryDBDSN) == "" {
		return NewLocal(appDB), nil
	}
	for _, ident := range []string{
		cfg.DirectoryStaffTable, cfg.DirectoryCitizenTable,
		cfg.DirectoryIDColumn, cfg.DirectoryNameColumn,
		cfg.DirectoryEmailColumn, cfg.DirectoryPassColumn, cfg.DirectoryRoleColumn,
	} {
		if !identRx.MatchString(ident) {
			return nil, fmt.Errorf("invalid SQL identifier %q", ident)
		}
	}
	db, err := sql.Open(cfg.DirectoryDBDriver, cfg.DirectoryDBDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &SQLDirectory{
		db:           db,
		driver:       cfg.DirectoryDBDriver,
		staffTable:   cfg.DirectoryStaffTable,
		citizenTable: cfg.DirectoryCitizenTable,
		idCol:        cfg.DirectoryIDColumn,
		nameCol:      cfg.DirectoryNameColumn,
		emailCol:     cfg.DirectoryEmailColumn,
		passCol:      cfg.DirectoryPassColumn,
		roleCol:      cfg.DirectoryRoleColumn,
	}, nil
}

func (d *SQLDirectory) StaffByEmail(ctx context.Context, email string) (*models.Principal, error) {
	q := fmt.Sprintf("SELECT %s, %s, %s, %s, %s FROM %s WHERE %s = %s",
		d.idCol, d.nameCol, d.emailCol, d.passCol, d.roleCol, d.staffTable, d.emailCol, d.ph(1))
	var p models.Principal
	p.UserType = models.UserTypeEmployee
	err := d.db.QueryRowContext(ctx, q, strings.ToLower(strings.TrimSpace(email))).
		Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *SQLDirectory) CitizenByEmail(ctx context.Context, email string) (*models.Principal, error) {
	q := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s WHERE %s = %s",
		d.idCol, d.nameCol, d.emailCol, d.passCol, d.citizenTable, d.emailCol, d.ph(1))
	var p models.Principal
	p.UserType = models.UserTypeCitizen
	p.Role = models.RoleCitizen
	err := d.db.QueryRowContext(ctx, q, strings.ToLower(strings.TrimSpace(email))).
		Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *SQLDirectory) CitizenByID(ctx context.Context, id string) (*models.Principal, error) {
	q := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s WHERE %s = %s",
		d.idCol, d.nameCol, d.emailCol, d.passCol, d.citizenTable, d.idCol, d.ph(1))
	var p models.Principal
	p.UserType = models.UserTypeCitizen
	p.Role = models.RoleCitizen
	err := d.db.QueryRowContext(ctx, q, id).
		Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *SQLDirectory) UpdatePassword(ctx context.Context, ut models.UserType, id, passwordHash string) error {
	q := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
		d.table(ut), d.passCol, d.ph(1), d.idCol, d.ph(2))
	res, err := d.db.ExecContext(ctx, q, passwordHash, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *SQLDirectory) TouchLastLogin(ctx context.Context, ut models.UserType, id string) error {
	// External schemas do not always carry a last-login column; the
	// timestamp is advisory, so failures here are not fatal to login.
	q := fmt.Sprintf("UPDATE %s SET last_login_at = %s WHERE %s = %s",
		d.table(ut), d.ph(1), d.idCol, d.ph(2))
	_, err := d.db.ExecContext(ctx, q, time.Now().UTC(), id)
	return err
}

func (d *SQLDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *SQLDirectory) table(ut models.UserType) string {
	if ut == models.UserTypeCitizen {
		return d.citizenTable
	}
	return d.staffTable
}

func (d *SQLDirectory) ph(i int) string {
	if strings.Contains(strings.ToLower(d.driver), "pgx") || strings.Contains(strings.ToLower(d.driver), "postgres") {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}
