package inspect

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/temoto/robotstxt"

	"aivision-ssr/internal/fetcher"
)

// AgentVerdict says whether one crawler may fetch the checked path.
type AgentVerdict struct {
	Agent   string
	Allowed bool
}

// RobotsReport is the outcome of checking a site's robots.txt.
type RobotsReport struct {
	RobotsURL  string
	StatusCode int
	Path       string
	Verdicts   []AgentVerdict
}

// Blocked returns the agents that may not fetch the checked path.
func (r RobotsReport) Blocked() []string {
	var out []string
	for _, v := range r.Verdicts {
		if !v.Allowed {
			out = append(out, v.Agent)
		}
	}
	return out
}

// CheckRobots fetches site's robots.txt and evaluates path for every
// agent. Missing robots files allow everything; server errors disallow
// everything, as crawlers treat them.
func CheckRobots(ctx context.Context, f fetcher.Fetcher, site string, agents []string, path string) (RobotsReport, error) {
	base, err := url.Parse(strings.TrimSpace(site))
	if err != nil || !base.IsAbs() || base.Host == "" {
		return RobotsReport{}, fmt.Errorf("site %q must be an absolute url", site)
	}
	robotsURL := base.Scheme + "://" + base.Host + "/robots.txt"
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	resp, err := f.Get(ctx, robotsURL, "text/plain")
	if err != nil {
		return RobotsReport{}, fmt.Errorf("fetch robots.txt: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		return RobotsReport{}, fmt.Errorf("parse robots.txt: %w", err)
	}

	report := RobotsReport{RobotsURL: robotsURL, StatusCode: resp.StatusCode, Path: path}
	for _, agent := range agents {
		agent = strings.TrimSpace(agent)
		if agent == "" {
			continue
		}
		report.Verdicts = append(report.Verdicts, AgentVerdict{
			Agent:   agent,
			Allowed: data.TestAgent(path, agent),
		})
	}
	return report, nil
}
