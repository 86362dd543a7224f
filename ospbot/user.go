package ospbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnUserID    = "user_id"
	columnBirthdate = "birthdate"

	birthdateLayout = "2006-01-02"
	minBirthYear    = 1900
)

var ErrInvalidBirthdate = errors.New("invalid birthdate")

// UserInfo is a row of the userinfo table
type UserInfo struct {
	// UserID is the discord user ID
	UserID int64 `json:"user_id" gorm:"column:user_id;primaryKey;autoIncrement:false"`

	// Birthdate is nil when the user hasn't set one, or removed it
	Birthdate *time.Time `json:"birthdate,omitempty" gorm:"column:birthdate;type:date"`
}

func (UserInfo) TableName() string {
	return "userinfo"
}

func (u UserInfo) LogValue() slog.Value {
	attrs := []slog.Attr{slog.Int64(columnUserID, u.UserID)}
	if u.Birthdate != nil {
		attrs = append(attrs, slog.String(columnBirthdate, u.Birthdate.Format(birthdateLayout)))
	}
	return slog.GroupValue(attrs...)
}

// Mention returns the discord mention string for the user
func (u UserInfo) Mention() string {
	return "<@" + strconv.FormatInt(u.UserID, 10) + ">"
}

// Birthdate returns the stored birthdate for the given discord user ID.
// The boolean is false when there's no row, or the birthdate is null.
func (d *Database) Birthdate(ctx context.Context, userID string) (
	time.Time,
	bool,
	error,
) {
	id, err := parseSnowflake(userID)
	if err != nil {
		return time.Time{}, false, err
	}
	ctx, cancel := withDBTimeout(ctx)
	defer cancel()

	var u UserInfo
	err = d.db.WithContext(ctx).Where("user_id = ?", id).Take(&u).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, fmt.Errorf("error getting birthdate: %w", err)
	case u.Birthdate == nil:
		return time.Time{}, false, nil
	}
	return dateOf(*u.Birthdate), true, nil
}

// SetBirthdate creates or updates the user's record
func (d *Database) SetBirthdate(
	ctx context.Context,
	userID string,
	birthdate time.Time,
) error {
	id, err := parseSnowflake(userID)
	if err != nil {
		return err
	}
	ctx, cancel := withDBTimeout(ctx)
	defer cancel()

	bd := dateOf(birthdate)
	rec := &UserInfo{UserID: id, Birthdate: &bd}
	err = d.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: columnUserID}},
			DoUpdates: clause.AssignmentColumns([]string{columnBirthdate}),
		},
	).Create(rec).Error
	if err != nil {
		return fmt.Errorf("error saving birthdate: %w", err)
	}
	d.logger.InfoContext(ctx, "saved birthdate", "userinfo", rec)
	return nil
}

// ClearBirthdate sets the user's birthdate to null, keeping the row.
// Returns false if the user had no birthdate set.
func (d *Database) ClearBirthdate(ctx context.Context, userID string) (
	bool,
	error,
) {
	id, err := parseSnowflake(userID)
	if err != nil {
		return false, err
	}
	ctx, cancel := withDBTimeout(ctx)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(&UserInfo{}).Where(
		"user_id = ? AND birthdate IS NOT NULL",
		id,
	).Update(columnBirthdate, nil)
	if rv.Error != nil {
		return false, fmt.Errorf("error clearing birthdate: %w", rv.Error)
	}
	return rv.RowsAffected > 0, nil
}

// UsersWithBirthdates returns every user with a birthdate set
func (d *Database) UsersWithBirthdates(ctx context.Context) ([]UserInfo, error) {
	ctx, cancel := withDBTimeout(ctx)
	defer cancel()

	var users []UserInfo
	err := d.db.WithContext(ctx).Where("birthdate IS NOT NULL").Order("user_id").Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("error listing birthdates: %w", err)
	}
	return users, nil
}

// ParseBirthdate parses a YYYY-MM-DD date, rejecting dates in the future
// (relative to now) or before 1900
func ParseBirthdate(s string, now time.Time) (time.Time, error) {
	t, err := time.ParseInLocation(birthdateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (expected YYYY-MM-DD)", ErrInvalidBirthdate, s)
	}
	if t.After(dateOf(now)) {
		return time.Time{}, fmt.Errorf("%w: %s is in the future", ErrInvalidBirthdate, s)
	}
	if t.Year() < minBirthYear {
		return time.Time{}, fmt.Errorf("%w: year must be %d or later", ErrInvalidBirthdate, minBirthYear)
	}
	return t, nil
}

// Birthday is an upcoming occurrence of a user's birthdate
type Birthday struct {
	UserID    int64
	Birthdate time.Time
	Date      time.Time
}

// Age is how old the user turns on Date
func (b Birthday) Age() int {
	return b.Date.Year() - b.Birthdate.Year()
}

func (b Birthday) Mention() string {
	return UserInfo{UserID: b.UserID}.Mention()
}

// upcomingBirthdays returns birthdays falling between from's date and
// `days` days after it (inclusive), soonest first
func upcomingBirthdays(users []UserInfo, from time.Time, days int) []Birthday {
	start := dateOf(from)
	end := start.AddDate(0, 0, days)

	var rv []Birthday
	for _, u := range users {
		if u.Birthdate == nil {
			continue
		}
		next := nextBirthday(*u.Birthdate, start)
		if next.After(end) {
			continue
		}
		rv = append(rv, Birthday{UserID: u.UserID, Birthdate: dateOf(*u.Birthdate), Date: next})
	}
	sort.SliceStable(
		rv, func(i, j int) bool {
			if rv[i].Date.Equal(rv[j].Date) {
				return rv[i].UserID < rv[j].UserID
			}
			return rv[i].Date.Before(rv[j].Date)
		},
	)
	return rv
}

// birthdaysOn returns the users whose birthday is celebrated on day
func birthdaysOn(users []UserInfo, day time.Time) []UserInfo {
	var rv []UserInfo
	for _, u := range users {
		if u.Birthdate != nil && birthdayOn(*u.Birthdate, day) {
			rv = append(rv, u)
		}
	}
	return rv
}

func birthdayOn(birthdate time.Time, day time.Time) bool {
	day = dateOf(day)
	return birthdayInYear(birthdate, day.Year()).Equal(day)
}

// nextBirthday returns the first celebration of birthdate on or after from
func nextBirthday(birthdate time.Time, from time.Time) time.Time {
	from = dateOf(from)
	next := birthdayInYear(birthdate, from.Year())
	if next.Before(from) {
		next = birthdayInYear(birthdate, from.Year()+1)
	}
	return next
}

// birthdayInYear returns the day birthdate is celebrated in the given year.
// Feb 29 birthdays fall on Feb 28 in non-leap years.
func birthdayInYear(birthdate time.Time, year int) time.Time {
	month, day := birthdate.Month(), birthdate.Day()
	if month == time.February && day == 29 && !isLeapYear(year) {
		day = 28
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// dateOf truncates t to midnight UTC of its calendar date
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
