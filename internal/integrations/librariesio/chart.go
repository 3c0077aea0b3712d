package librariesio

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

const barWidth = 50

// PrintChart draws stars, forks and subscribers for each project as
// horizontal bars scaled to the largest value across all projects.
func PrintChart(w io.Writer, projects []Project) {
	maxValue := 0
	for _, p := range projects {
		for _, v := range []int{p.Stars, p.Forks, p.Subscribers} {
			if v > maxValue {
				maxValue = v
			}
		}
	}

	series := []struct {
		name string
		c    *color.Color
		get  func(Project) int
	}{
		{"Stars", color.New(color.FgGreen), func(p Project) int { return p.Stars }},
		{"Forks", color.New(color.FgBlue), func(p Project) int { return p.Forks }},
		{"Subscribers", color.New(color.FgYellow), func(p Project) int { return p.Subscribers }},
	}

	for _, p := range projects {
		color.New(color.Bold).Fprintf(w, "%s/%s", p.Platform, p.Name)
		if p.RepositoryURL != "" {
			fmt.Fprintf(w, "  %s", p.RepositoryURL)
		}
		fmt.Fprintln(w)
		for _, s := range series {
			v := s.get(p)
			fmt.Fprintf(w, "  %-12s ", s.name)
			s.c.Fprint(w, strings.Repeat("█", barLength(v, maxValue)))
			fmt.Fprintf(w, " %d\n", v)
		}
	}
}

func barLength(v, maxValue int) int {
	if maxValue <= 0 || v <= 0 {
		return 0
	}
	n := v * barWidth / maxValue
	if n == 0 {
		n = 1
	}
	return n
}
