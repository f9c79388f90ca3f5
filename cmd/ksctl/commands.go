package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/keyguard/internal/domain/features"
	"github.com/okian/keyguard/internal/domain/model"
	"github.com/okian/keyguard/internal/domain/scoring"
	"github.com/okian/keyguard/internal/domain/template"
)

const defaultModelVersion = "ks_v1_robust64"

var errNoTemplates = errors.New("at least one --template is required")

// templateFile is the on-disk form of an aggregated template.
type templateFile struct {
	Identity     string            `json:"identity,omitempty"`
	ModelVersion string            `json:"model_version"`
	NSamples     int               `json:"n_samples"`
	Vector       []float64         `json:"vector,omitempty"`
	Scalars      *features.Scalars `json:"scalars,omitempty"`
}

// record converts the file to a store record. Vectors of any length are kept
// so that Decide can exclude mismatched ones.
func (t templateFile) record() template.Record {
	r := template.Record{
		Identity:     t.Identity,
		NSamples:     t.NSamples,
		ModelVersion: t.ModelVersion,
		Scalars:      t.Scalars,
	}
	if t.Vector != nil {
		r.Embedding = template.EncodeVector(t.Vector)
	}
	return r
}

type extractOutput struct {
	FeatureVector features.Vector  `json:"feature_vector"`
	PasteFlag     bool             `json:"paste_flag"`
	Meta          model.MetaObject `json:"meta"`
}

type decideOutput struct {
	Score       float64       `json:"score"`
	Verdict     model.Verdict `json:"verdict"`
	PasteFlag   bool          `json:"paste_flag"`
	ScalarScore *int          `json:"scalar_score,omitempty"`
	Compared    int           `json:"compared"`
	Excluded    int           `json:"excluded"`
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "ksctl",
		Short:        "Offline keystroke feature and decision tool",
		SilenceUsage: true,
	}
	root.AddCommand(newExtractCommand(), newAggregateCommand(), newDecideCommand())
	return root
}

func newExtractCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <events.json>",
		Short: "Print the feature vector, paste flag and diagnostics of one sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := readEvents(args[0])
			if err != nil {
				return err
			}
			res := features.Extract(events)
			return writeOutput(cmd.OutOrStdout(), extractOutput{
				FeatureVector: res.Vector,
				PasteFlag:     res.PasteFlag,
				Meta:          model.MetaObject{SampleMeta: res.Meta},
			})
		},
	}
}

func newAggregateCommand() *cobra.Command {
	var identity, modelVersion string

	cmd := &cobra.Command{
		Use:   "aggregate <sample.json>...",
		Short: "Aggregate enrollment samples into a template",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples := make([][]model.KeyEvent, 0, len(args))
			for _, path := range args {
				events, err := readEvents(path)
				if err != nil {
					return err
				}
				samples = append(samples, events)
			}

			tmpl, ok := template.Aggregate(samples)
			if !ok {
				return errors.New("samples produced no template")
			}
			out := templateFile{
				Identity:     identity,
				ModelVersion: modelVersion,
				NSamples:     tmpl.NSamples,
				Vector:       tmpl.Vector,
			}
			if tmpl.Scalars.MeanHold != nil || tmpl.Scalars.MeanDD != nil {
				s := tmpl.Scalars
				out.Scalars = &s
			}
			return writeOutput(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "identity to stamp on the template")
	cmd.Flags().StringVar(&modelVersion, "model-version", defaultModelVersion, "model version label")
	return cmd
}

func newDecideCommand() *cobra.Command {
	var (
		templatePaths []string
		thresholds    = scoring.DefaultThresholds()
	)

	cmd := &cobra.Command{
		Use:   "decide --template <template.json> <events.json>",
		Short: "Score a sample against one or more templates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(templatePaths) == 0 {
				return errNoTemplates
			}
			if err := thresholds.Validate(); err != nil {
				return err
			}

			recs := make([]template.Record, 0, len(templatePaths))
			for _, path := range templatePaths {
				var tf templateFile
				if err := readJSON(path, &tf); err != nil {
					return err
				}
				recs = append(recs, tf.record())
			}

			events, err := readEvents(args[0])
			if err != nil {
				return err
			}

			res := features.Extract(events)
			refs, unusable := template.ReferenceVectors(recs)
			d := scoring.NewEngine(scoring.WithThresholds(thresholds)).Decide(res.Vector, refs, res.PasteFlag)

			out := decideOutput{
				Score:     d.Score,
				Verdict:   d.Verdict,
				PasteFlag: res.PasteFlag,
				Compared:  d.Compared,
				Excluded:  d.Excluded + unusable,
			}
			for i := len(recs) - 1; i >= 0; i-- {
				if recs[i].Scalars == nil {
					continue
				}
				if s, ok := scoring.ScalarSimilarity(features.ScalarStats(events), *recs[i].Scalars); ok {
					out.ScalarScore = &s
				}
				break
			}
			return writeOutput(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringSliceVar(&templatePaths, "template", nil, "template file (repeatable)")
	cmd.Flags().Float64Var(&thresholds.Accept, "accept", thresholds.Accept, "accept threshold")
	cmd.Flags().Float64Var(&thresholds.Review, "review", thresholds.Review, "review threshold")
	return cmd
}

// readEvents accepts either a bare event array or an object with an
// "events" field, as posted to the HTTP API.
func readEvents(path string) ([]model.KeyEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)

	var events []model.KeyEvent
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return events, nil
	}

	var wrapped struct {
		Events []model.KeyEvent `json:"events"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wrapped.Events, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func writeOutput(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
