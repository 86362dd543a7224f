package ospbot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	birthdayCogName = "birthday"

	defaultUpcomingBirthdayDays = 30
	maxUpcomingBirthdayDays     = 366

	birthdayDisplayLayout = "January 2, 2006"
	birthdayUsage         = "Usage: `birthday set YYYY-MM-DD`, `birthday [@user]`, `birthday remove`"
)

// birthdayCog manages the birthdates stored in the userinfo table
type birthdayCog struct {
	bot *OSPBot
	now func() time.Time
}

func newBirthdayCog(d *OSPBot) (Cog, error) {
	if d.db == nil {
		return nil, errors.New("birthday cog requires a database")
	}
	return &birthdayCog{
		bot: d,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (*birthdayCog) Name() string {
	return birthdayCogName
}

func (c *birthdayCog) Commands() []*Command {
	return []*Command{
		{
			Name:    "birthday",
			Aliases: []string{"bday"},
			Usage:   "[set YYYY-MM-DD | remove | @user]",
			Help:    "Shows, sets or removes a birthday",
			Handler: c.birthday,
		},
		{
			Name:    "birthdays",
			Aliases: []string{"bdays"},
			Usage:   "[days]",
			Help:    fmt.Sprintf("Lists birthdays in the next few days (default %d)", defaultUpcomingBirthdayDays),
			Handler: c.upcoming,
		},
	}
}

func (c *birthdayCog) birthday(cc *CommandContext) error {
	if len(cc.Args) == 0 {
		return c.show(cc, cc.AuthorID())
	}
	switch strings.ToLower(cc.Args[0]) {
	case "set":
		if len(cc.Args) != 2 {
			_, err := cc.Reply(birthdayUsage)
			return err
		}
		return c.set(cc, cc.Args[1])
	case "remove", "clear", "delete":
		return c.remove(cc)
	}
	if userID, ok := parseUserMention(cc.Args[0]); ok {
		return c.show(cc, userID)
	}
	_, err := cc.Reply(birthdayUsage)
	return err
}

func (c *birthdayCog) show(cc *CommandContext, userID string) error {
	bd, ok, err := c.bot.db.Birthdate(cc.Context(), userID)
	if err != nil {
		return err
	}
	self := userID == cc.AuthorID()
	switch {
	case !ok && self:
		_, err = cc.Reply("You haven't set a birthday. " + birthdayUsage)
	case !ok:
		_, err = cc.Reply(fmt.Sprintf("<@%s> hasn't set a birthday.", userID))
	case self:
		_, err = cc.Reply("Your birthday is " + bd.Format(birthdayDisplayLayout) + ".")
	default:
		_, err = cc.Reply(fmt.Sprintf("<@%s>'s birthday is %s.", userID, bd.Format(birthdayDisplayLayout)))
	}
	return err
}

func (c *birthdayCog) set(cc *CommandContext, value string) error {
	bd, err := ParseBirthdate(value, c.now())
	if err != nil {
		cc.Logger.InfoContext(cc.Context(), "rejected birthdate", "value", value)
		_, replyErr := cc.Reply(fmt.Sprintf("That isn't a valid birthday. %s", birthdayUsage))
		return replyErr
	}
	if err = c.bot.db.SetBirthdate(cc.Context(), cc.AuthorID(), bd); err != nil {
		return err
	}
	_, err = cc.Reply("Birthday set to " + bd.Format(birthdayDisplayLayout) + ".")
	return err
}

func (c *birthdayCog) remove(cc *CommandContext) error {
	removed, err := c.bot.db.ClearBirthdate(cc.Context(), cc.AuthorID())
	if err != nil {
		return err
	}
	if !removed {
		_, err = cc.Reply("You don't have a birthday set.")
		return err
	}
	_, err = cc.Reply("Birthday removed.")
	return err
}

func (c *birthdayCog) upcoming(cc *CommandContext) error {
	days := defaultUpcomingBirthdayDays
	if len(cc.Args) > 0 {
		n, err := strconv.Atoi(cc.Args[0])
		if err != nil || n < 0 || n > maxUpcomingBirthdayDays {
			_, replyErr := cc.Reply(
				fmt.Sprintf("Usage: `birthdays [days]`, with days between 0 and %d", maxUpcomingBirthdayDays),
			)
			return replyErr
		}
		days = n
	}

	users, err := c.bot.db.UsersWithBirthdates(cc.Context())
	if err != nil {
		return err
	}
	today := dateOf(c.now())
	upcoming := upcomingBirthdays(users, today, days)
	if len(upcoming) == 0 {
		_, err = cc.Reply(fmt.Sprintf("No birthdays in the next %d days.", days))
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Birthdays in the next %d days**\n", days)
	for _, bd := range upcoming {
		fmt.Fprintf(&b, "%s - %s, turning %d", bd.Mention(), bd.Date.Format("January 2"), bd.Age())
		switch n := int(bd.Date.Sub(today).Hours() / 24); n {
		case 0:
			b.WriteString(" (today!)")
		case 1:
			b.WriteString(" (tomorrow)")
		default:
			fmt.Fprintf(&b, " (in %d days)", n)
		}
		b.WriteString("\n")
	}
	_, err = cc.Reply(b.String())
	return err
}
