package screens

import (
	"context"
	"fmt"
	"image"
	"math/rand"
	"time"
)

const (
	margin     = 100
	starMargin = 40
)

// fallbackQuote is shown when no quote has ever been fetched.
var fallbackQuote = quote{
	Text:   "The best time to plant a tree was 20 years ago. The second best time is now.",
	Author: "Chinese proverb",
}

// Dashboard shows the time, date, today's weather and the device status.
func (s *Set) Dashboard(ctx context.Context) (image.Image, error) {
	now := s.now()
	c := newCanvas(s.width, s.height, white)

	c.text(margin, 260, now.Format("15:04"), 220, true, black)
	c.text(margin, 360, now.Format("Monday 2 January"), 64, false, grey)
	c.hline(420, margin, s.width-margin, 4, black)

	if w, ok := s.fetchWeather(ctx); ok {
		c.text(margin, 560, fmt.Sprintf("%.0f°", w.Temperature), 140, true, black)
		c.text(margin+360, 500, describeWeather(w.Code), 56, false, black)
		c.text(margin+360, 570, fmt.Sprintf("High %.0f°  Low %.0f°  Rain %d%%", w.High, w.Low, w.RainChance), 40, false, grey)
	} else {
		c.text(margin, 540, "Weather unavailable", 56, false, grey)
	}
	if s.weather.Location != "" {
		c.text(margin, 660, s.weather.Location, 36, false, grey)
	}

	footer := "Updated " + now.Format("15:04")
	if st, ok := s.fetchStatus(ctx); ok {
		footer = fmt.Sprintf("Battery %.0f%%  ·  %.1f°C  ·  %s", st.Battery, st.Temperature, footer)
	}
	c.hline(s.height-110, margin, s.width-margin, 2, light)
	c.centered(s.height-50, footer, 28, false, grey)

	return c.done()
}

// Clock shows the time in large digits.
func (s *Set) Clock(context.Context) (image.Image, error) {
	now := s.now()
	c := newCanvas(s.width, s.height, white)

	c.frame(image.Rect(60, 60, s.width-60, s.height-60), 8, black)
	c.centered(s.height/2+120, now.Format("15:04"), 360, true, black)
	c.centered(s.height/2+260, now.Format("Monday"), 72, false, grey)

	return c.done()
}

// Progress shows how far through the year today is.
func (s *Set) Progress(context.Context) (image.Image, error) {
	now := s.now()
	start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location())
	end := start.AddDate(1, 0, 0)
	fraction := float64(now.Sub(start)) / float64(end.Sub(start))

	c := newCanvas(s.width, s.height, white)
	c.centered(300, fmt.Sprintf("%d is", now.Year()), 96, false, grey)
	c.centered(500, fmt.Sprintf("%.1f%%", fraction*100), 200, true, black)

	bar := image.Rect(margin, 620, s.width-margin, 720)
	c.frame(bar, 6, black)
	filled := bar.Inset(14)
	filled.Max.X = filled.Min.X + int(float64(filled.Dx())*fraction)
	c.fill(filled, black)

	daysLeft := int(end.Sub(now).Hours() / 24)
	c.centered(840, fmt.Sprintf("Day %d  ·  %d days to go", now.YearDay(), daysLeft), 48, false, grey)

	return c.done()
}

// Quote shows the quote of the day, or a built-in proverb when none is available.
func (s *Set) Quote(ctx context.Context) (image.Image, error) {
	q, ok := s.fetchQuote(ctx)
	if !ok {
		q = fallbackQuote
	}

	c := newCanvas(s.width, s.height, white)
	c.centered(260, "“", 200, true, light)
	y := c.wrapped(420, q.Text, 64, false, black, s.width-2*margin)
	c.centered(y+60, "— "+q.Author, 44, false, grey)

	return c.done()
}

// Joke shows a dad joke. It fails when no joke is available so the
// previous screen stays up.
func (s *Set) Joke(ctx context.Context) (image.Image, error) {
	joke, ok := s.fetchJoke(ctx)
	if !ok {
		return nil, fmt.Errorf("joke: %w", ErrNoData)
	}

	c := newCanvas(s.width, s.height, white)
	c.centered(200, "Dad Joke", 72, true, black)
	c.hline(250, margin*3, s.width-margin*3, 4, black)
	c.wrapped(420, joke, 60, false, black, s.width-2*margin)

	return c.done()
}

// Sleeping is the placeholder pushed outside active hours.
func (s *Set) Sleeping(_ context.Context, wake string) (image.Image, error) {
	c := newCanvas(s.width, s.height, dark)

	// Fixed seed so the stars do not move between renders.
	if s.width > 2*starMargin && s.height > 2*starMargin {
		rng := rand.New(rand.NewSource(42))
		for i := 0; i < 120; i++ {
			x := starMargin + rng.Intn(s.width-2*starMargin)
			y := starMargin + rng.Intn(s.height-2*starMargin)
			size := 1 + rng.Intn(3)
			c.fill(image.Rect(x-size, y-size, x+size, y+size), uint8(60+rng.Intn(120)))
		}
	}

	c.centered(s.height/2+60, "Sleeping", 72, true, grey)
	c.centered(s.height/2+130, "Good night", 36, false, 70)
	c.centered(s.height-50, fmt.Sprintf("Back at %s  ·  %s", wake, s.now().Format("15:04")), 22, false, 50)

	return c.done()
}
