package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	appLog "timetable/internal/log"
	"timetable/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

// sqlite caps bound parameters per statement; stay well below it.
const maxIDsPerQuery = 500

// SQLite is the durable schedule cache backed by a single sqlite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("store: database path is empty")
	}
	// busy_timeout is per connection, so it goes into the DSN rather than a PRAGMA.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	// Concurrent refreshes of different owners write at the same time.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		appLog.Warn("failed to enable WAL mode", "err", err, "path", path)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	appLog.Info("schedule store ready", "path", path)
	return &SQLite{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	drv, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return err
	}
	// m.Close would close db as well, so it is left to SQLite.Close.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) GetWeek(ctx context.Context, owner model.OwnerKey) (model.ScheduleWeek, bool, error) {
	var (
		isOdd  bool
		monday string
		dayIDs string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT is_odd, monday, day_ids FROM schedule_weeks WHERE owner_kind = ? AND owner_id = ?`,
		string(owner.Kind), owner.ID,
	).Scan(&isOdd, &monday, &dayIDs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ScheduleWeek{}, false, nil
	}
	if err != nil {
		return model.ScheduleWeek{}, false, err
	}

	week := model.ScheduleWeek{Owner: owner, IsOdd: isOdd}
	if week.Monday, err = model.ParseDate(monday); err != nil {
		return model.ScheduleWeek{}, false, err
	}
	if err := sonic.UnmarshalString(dayIDs, &week.DayIDs); err != nil {
		return model.ScheduleWeek{}, false, fmt.Errorf("store: decode day ids for %s: %w", owner, err)
	}
	return week, true, nil
}

func (s *SQLite) PutWeek(ctx context.Context, week model.ScheduleWeek) error {
	dayIDs, err := encodeIDs(week.DayIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedule_weeks (owner_kind, owner_id, is_odd, monday, day_ids)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_kind, owner_id) DO UPDATE SET
			is_odd = excluded.is_odd,
			monday = excluded.monday,
			day_ids = excluded.day_ids`,
		string(week.Owner.Kind), week.Owner.ID, week.IsOdd, week.Monday.String(), dayIDs,
	)
	return err
}

func (s *SQLite) PutDays(ctx context.Context, days []model.ScheduleDay) error {
	if len(days) == 0 {
		return nil
	}
	return s.inTx(ctx, `
		INSERT INTO schedule_days (id, week_day, lesson_ids)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			week_day = excluded.week_day,
			lesson_ids = excluded.lesson_ids`,
		func(stmt *sql.Stmt) error {
			for _, d := range days {
				lessonIDs, err := encodeIDs(d.LessonIDs)
				if err != nil {
					return err
				}
				if _, err := stmt.ExecContext(ctx, d.ID, int(d.WeekDay), lessonIDs); err != nil {
					return err
				}
			}
			return nil
		})
}

func (s *SQLite) GetDaysByIDs(ctx context.Context, ids []int64) ([]model.ScheduleDay, error) {
	found := make(map[int64]model.ScheduleDay, len(ids))
	err := s.queryByIDs(ctx, `SELECT id, week_day, lesson_ids FROM schedule_days WHERE id IN (%s)`, ids,
		func(rows *sql.Rows) error {
			var (
				d         model.ScheduleDay
				weekDay   int
				lessonIDs string
			)
			if err := rows.Scan(&d.ID, &weekDay, &lessonIDs); err != nil {
				return err
			}
			d.WeekDay = model.WeekDay(weekDay)
			if err := sonic.UnmarshalString(lessonIDs, &d.LessonIDs); err != nil {
				return fmt.Errorf("store: decode lesson ids of day %d: %w", d.ID, err)
			}
			found[d.ID] = d
			return nil
		})
	if err != nil {
		return nil, err
	}
	return inOrder(ids, found), nil
}

func (s *SQLite) PutLessons(ctx context.Context, lessons []model.Lesson) error {
	if len(lessons) == 0 {
		return nil
	}
	return s.inTx(ctx, `
		INSERT INTO lessons (id, start_time, end_time, name, type, place, teacher_name, lms_url, group_names)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			name = excluded.name,
			type = excluded.type,
			place = excluded.place,
			teacher_name = excluded.teacher_name,
			lms_url = excluded.lms_url,
			group_names = excluded.group_names`,
		func(stmt *sql.Stmt) error {
			for _, l := range lessons {
				groups := l.GroupNames
				if groups == nil {
					groups = []string{}
				}
				groupNames, err := sonic.MarshalString(groups)
				if err != nil {
					return err
				}
				if _, err := stmt.ExecContext(ctx,
					l.ID, l.Start, l.End, l.Name, l.Type, l.Place, l.TeacherName, l.LMSURL, groupNames,
				); err != nil {
					return err
				}
			}
			return nil
		})
}

func (s *SQLite) GetLessonsByIDs(ctx context.Context, ids []int64) ([]model.Lesson, error) {
	found := make(map[int64]model.Lesson, len(ids))
	err := s.queryByIDs(ctx, `
		SELECT id, start_time, end_time, name, type, place, teacher_name, lms_url, group_names
		FROM lessons WHERE id IN (%s)`, ids,
		func(rows *sql.Rows) error {
			var (
				l          model.Lesson
				groupNames string
			)
			if err := rows.Scan(&l.ID, &l.Start, &l.End, &l.Name, &l.Type, &l.Place, &l.TeacherName, &l.LMSURL, &groupNames); err != nil {
				return err
			}
			if err := sonic.UnmarshalString(groupNames, &l.GroupNames); err != nil {
				return fmt.Errorf("store: decode groups of lesson %d: %w", l.ID, err)
			}
			found[l.ID] = l
			return nil
		})
	if err != nil {
		return nil, err
	}
	return inOrder(ids, found), nil
}

func (s *SQLite) PutOwners(ctx context.Context, owners []model.Owner) error {
	if len(owners) == 0 {
		return nil
	}
	// The picked flag of a known owner survives a directory refresh.
	return s.inTx(ctx, `
		INSERT INTO owners (kind, id, name, is_picked)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET name = excluded.name`,
		func(stmt *sql.Stmt) error {
			for _, o := range owners {
				if _, err := stmt.ExecContext(ctx, string(o.Kind), o.ID, o.Name, o.IsPicked); err != nil {
					return err
				}
			}
			return nil
		})
}

func (s *SQLite) ListOwners(ctx context.Context, kind model.OwnerKind) ([]model.Owner, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, is_picked FROM owners WHERE kind = ? ORDER BY name, id`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := make([]model.Owner, 0)
	for rows.Next() {
		o := model.Owner{Kind: kind}
		if err := rows.Scan(&o.ID, &o.Name, &o.IsPicked); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

func (s *SQLite) ClearPicked(ctx context.Context, kind model.OwnerKind) error {
	_, err := s.db.ExecContext(ctx, `UPDATE owners SET is_picked = 0 WHERE kind = ? AND is_picked = 1`, string(kind))
	return err
}

func (s *SQLite) SetPicked(ctx context.Context, owner model.OwnerKey) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE owners SET is_picked = 1 WHERE kind = ? AND id = ?`, string(owner.Kind), owner.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: owner %s", ErrNotFound, owner)
	}
	return nil
}

func (s *SQLite) PickedOwner(ctx context.Context, kind model.OwnerKind) (model.Owner, bool, error) {
	o := model.Owner{Kind: kind}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, is_picked FROM owners WHERE kind = ? AND is_picked = 1 ORDER BY id LIMIT 1`, string(kind),
	).Scan(&o.ID, &o.Name, &o.IsPicked)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Owner{}, false, nil
	}
	if err != nil {
		return model.Owner{}, false, err
	}
	return o, true, nil
}

// inTx runs fn with query prepared inside one transaction.
func (s *SQLite) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}
	return tx.Commit()
}

// queryByIDs runs query (with one %s for the placeholder list) over ids in
// chunks and hands every row to scan.
func (s *SQLite) queryByIDs(ctx context.Context, query string, ids []int64, scan func(*sql.Rows) error) error {
	for start := 0; start < len(ids); start += maxIDsPerQuery {
		end := min(start+maxIDsPerQuery, len(ids))
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		if err := s.queryChunk(ctx, fmt.Sprintf(query, placeholders), args, scan); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) queryChunk(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func encodeIDs(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	return sonic.MarshalString(ids)
}
