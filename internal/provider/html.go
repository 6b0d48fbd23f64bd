// Package provider scrapes schedules and owner directories from the
// institution's timetable site.
//
// Page markup this scraper relies on:
//
//	GET {base}/schedule/{group|teacher}/{id}?date=YYYY-MM-DD
//	  .week-parity[data-odd="true|false"]
//	  .schedule-day[data-weekday="1..6"]      Monday is 1
//	    .lesson
//	      .lesson-time     "08:00 - 09:35"
//	      .lesson-name, .lesson-type, .lesson-place, .lesson-teacher
//	      a.lesson-lms[href]
//	      .lesson-group    (repeated)
//
//	GET {base}/{groups|teachers}
//	  a.owner[data-id]    text is the display name
//
// The markup is not validated: missing elements produce empty fields. The
// week parity is the exception and its absence is an error.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	appLog "timetable/internal/log"
	"timetable/internal/model"
)

const defaultTimeout = 15 * time.Second

var spaces = regexp.MustCompile(`\s+`)

// Options configures an HTMLProvider.
type Options struct {
	// BaseURL is the site root, e.g. "https://timetable.example.edu".
	BaseURL string
	// Timeout bounds every request. Zero means 15s.
	Timeout time.Duration
	// UserAgent is sent with every request when non-empty.
	UserAgent string
	// Client overrides the HTTP client; Timeout is ignored when set.
	Client *http.Client
}

// HTMLProvider fetches and scrapes timetable pages.
type HTMLProvider struct {
	base      *url.URL
	client    *http.Client
	userAgent string
}

func NewHTMLProvider(opts Options) (*HTMLProvider, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("provider: base URL is empty")
	}
	base, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("provider: base URL: %w", err)
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTMLProvider{base: base, client: client, userAgent: opts.UserAgent}, nil
}

// ErrNoParity is returned when the schedule page does not say whether the
// week is odd.
var ErrNoParity = errors.New("provider: week parity missing from page")

// FetchSchedule returns the lessons of the week containing date, keyed by
// weekday. Weekdays listed on the page without lessons map to an empty slice.
func (p *HTMLProvider) FetchSchedule(ctx context.Context, owner model.OwnerKey, date model.Date) (model.RawSchedule, error) {
	doc, err := p.schedulePage(ctx, owner, date)
	if err != nil {
		return nil, err
	}
	return parseSchedule(doc, owner), nil
}

// FetchWeekOddness reports whether the week containing date is odd.
func (p *HTMLProvider) FetchWeekOddness(ctx context.Context, owner model.OwnerKey, date model.Date) (bool, error) {
	doc, err := p.schedulePage(ctx, owner, date)
	if err != nil {
		return false, err
	}
	return parseParity(doc)
}

// FetchWeek reads lessons and oddness from one download of the schedule
// page.
func (p *HTMLProvider) FetchWeek(ctx context.Context, owner model.OwnerKey, date model.Date) (model.RawSchedule, bool, error) {
	doc, err := p.schedulePage(ctx, owner, date)
	if err != nil {
		return nil, false, err
	}
	odd, err := parseParity(doc)
	if err != nil {
		return nil, false, err
	}
	sched := parseSchedule(doc, owner)
	appLog.Debug("week scraped", "owner", owner, "date", date, "days", len(sched), "odd", odd)
	return sched, odd, nil
}

func (p *HTMLProvider) schedulePage(ctx context.Context, owner model.OwnerKey, date model.Date) (*goquery.Document, error) {
	path := fmt.Sprintf("/schedule/%s/%d", owner.Kind, owner.ID)
	return p.get(ctx, path, url.Values{"date": {date.String()}})
}

func parseSchedule(doc *goquery.Document, owner model.OwnerKey) model.RawSchedule {
	out := make(model.RawSchedule)
	doc.Find(".schedule-day").Each(func(_ int, day *goquery.Selection) {
		n, err := strconv.Atoi(strings.TrimSpace(day.AttrOr("data-weekday", "")))
		if err != nil || n < 1 || n > len(model.WeekDays) {
			appLog.Debug("skipping schedule day", "owner", owner, "data_weekday", day.AttrOr("data-weekday", ""))
			return
		}
		wd := model.WeekDay(n - 1)
		lessons := out[wd]
		if lessons == nil {
			lessons = []model.RawLesson{}
		}
		day.Find(".lesson").Each(func(_ int, s *goquery.Selection) {
			lessons = append(lessons, parseLesson(s))
		})
		out[wd] = lessons
	})
	return out
}

func parseParity(doc *goquery.Document) (bool, error) {
	raw := strings.TrimSpace(doc.Find(".week-parity").First().AttrOr("data-odd", ""))
	odd, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: data-odd=%q", ErrNoParity, raw)
	}
	return odd, nil
}

// FetchOwners lists every group or teacher on the directory page.
func (p *HTMLProvider) FetchOwners(ctx context.Context, kind model.OwnerKind) ([]model.Owner, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownOwnerKind, kind)
	}
	doc, err := p.get(ctx, "/"+string(kind)+"s", nil)
	if err != nil {
		return nil, err
	}

	owners := make([]model.Owner, 0)
	doc.Find("a.owner").Each(func(_ int, s *goquery.Selection) {
		id, err := strconv.ParseInt(strings.TrimSpace(s.AttrOr("data-id", "")), 10, 64)
		if err != nil {
			return
		}
		owners = append(owners, model.Owner{
			Kind: kind,
			ID:   id,
			Name: text(s),
		})
	})
	return owners, nil
}

func (p *HTMLProvider) get(ctx context.Context, path string, query url.Values) (*goquery.Document, error) {
	u := *p.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()
	target := u.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		// *url.Error repeats the full URL; keep only the cause.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("provider: GET %s: %w", redactURL(target), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider: GET %s: %s", redactURL(target), resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider: parse %s: %w", redactURL(target), err)
	}
	appLog.Debug("provider fetch", "url", redactURL(target), "status", resp.StatusCode, "took", time.Since(start))
	return doc, nil
}

func parseLesson(s *goquery.Selection) model.RawLesson {
	l := model.RawLesson{
		Name:        text(s.Find(".lesson-name").First()),
		Type:        text(s.Find(".lesson-type").First()),
		Place:       text(s.Find(".lesson-place").First()),
		TeacherName: text(s.Find(".lesson-teacher").First()),
		LMSURL:      strings.TrimSpace(s.Find("a.lesson-lms").First().AttrOr("href", "")),
		GroupNames:  []string{},
	}

	// "08:00 - 09:35" with arbitrary whitespace around the dash.
	times := spaces.ReplaceAllString(s.Find(".lesson-time").First().Text(), "")
	if parts := strings.SplitN(times, "-", 2); len(parts) == 2 {
		l.Start, l.End = parts[0], parts[1]
	}

	s.Find(".lesson-group").Each(func(_ int, g *goquery.Selection) {
		if name := text(g); name != "" {
			l.GroupNames = append(l.GroupNames, name)
		}
	})
	return l
}

func text(s *goquery.Selection) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s.Text(), " "))
}

// redactURL keeps scheme and host and drops path and query, which may carry
// owner ids or tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
