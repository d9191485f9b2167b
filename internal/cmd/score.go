package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/noot-app/foodfit-server/internal/resolver"
	"github.com/noot-app/foodfit-server/internal/types"
)

// errNotFound is distinct from a failed lookup: the product is in no catalog
var errNotFound = errors.New("product is not in any catalog")

type scoreOutput struct {
	Resolution resolver.Response  `json:"resolution"`
	Score      *types.ScoreResult `json:"score,omitempty"`
}

func newScoreCmd() *cobra.Command {
	var (
		profilePath string
		format      string
	)

	cmd := &cobra.Command{
		Use:   "score <barcode>",
		Short: "Resolve a barcode and score it for a dietary profile",
		Example: `  foodfit-server score 3017620422003 --profile profile.json
  foodfit-server score 3017620422003 --format text`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "text" {
				return fmt.Errorf("unknown format %q (want json or text)", format)
			}

			profile, err := loadProfile(profilePath)
			if err != nil {
				return err
			}

			app, err := initApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			resp := app.Resolver.Resolve(cmd.Context(), args[0])
			if !resp.OK {
				return fmt.Errorf("failed to resolve %s: %w", args[0], resp.Err)
			}

			out := scoreOutput{Resolution: resp}
			if resp.Product != nil {
				out.Score, err = app.Engine.Score(resp.Product, profile)
				if err != nil {
					return fmt.Errorf("failed to score %s: %w", resp.Barcode, err)
				}
			}

			if format == "text" {
				writeScoreText(cmd.OutOrStdout(), out)
			} else {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return fmt.Errorf("failed to write result: %w", err)
				}
			}

			if resp.NotFound {
				return fmt.Errorf("%s: %w", resp.Barcode, errNotFound)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&profilePath, "profile", "p", "", "Path to a JSON dietary profile (default: balanced, no goals)")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or text")
	return cmd
}

// loadProfile reads and validates a JSON profile; an empty path means defaults
func loadProfile(path string) (types.UserProfile, error) {
	data := []byte("{}")
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return types.UserProfile{}, fmt.Errorf("failed to read profile: %w", err)
		}
	}

	var profile types.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return types.UserProfile{}, fmt.Errorf("failed to parse profile: %w", err)
	}
	if _, err := profile.Normalize(); err != nil {
		return types.UserProfile{}, fmt.Errorf("invalid profile: %w", err)
	}
	return profile, nil
}

func writeScoreText(w io.Writer, out scoreOutput) {
	if out.Resolution.NotFound || out.Score == nil {
		fmt.Fprintf(w, "%s: not found in any catalog\n", out.Resolution.Barcode)
		return
	}

	p := out.Resolution.Product
	s := out.Score
	title := p.Name
	if p.Brand != "" {
		title += " (" + p.Brand + ")"
	}
	fmt.Fprintf(w, "%s %s\n", title, out.Resolution.Barcode)
	fmt.Fprintf(w, "Score: %d/100 (safety %.0f, fit %.0f)\n", s.FinalScore, s.SafetyScore, s.FitScore)

	goals := make([]string, 0, len(s.GoalScores))
	for g := range s.GoalScores {
		goals = append(goals, string(g))
	}
	sort.Strings(goals)
	for _, g := range goals {
		fmt.Fprintf(w, "  %s: %.2f\n", g, s.GoalScores[types.HealthGoal(g)])
	}

	for _, note := range s.Notes {
		fmt.Fprintf(w, "- %s\n", note)
	}
}
