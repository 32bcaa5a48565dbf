package apps

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/Brownie44l1/demohub/internal/config"
	"github.com/Brownie44l1/demohub/internal/decision"
	"github.com/Brownie44l1/demohub/internal/model"
	"github.com/Brownie44l1/demohub/internal/preprocess"
)

// Input is one user submission: an uploaded image or a line of text.
type Input struct {
	Filename string
	Data     []byte
	Text     string
}

type ClassScore struct {
	Name        string         `json:"name"`
	Probability float64        `json:"probability"`
	Level       decision.Level `json:"level"`
}

type Result struct {
	ID          string        `json:"id"`
	App         string        `json:"app"`
	Label       string        `json:"label"`
	Emoji       string        `json:"emoji,omitempty"`
	Color       string        `json:"color,omitempty"`
	Probability float64       `json:"probability"`
	Confidence  float64       `json:"confidence"`
	Tier        decision.Tier `json:"tier"`
	Message     string        `json:"message"`
	Classes     []ClassScore  `json:"classes"`
	Cached      bool          `json:"cached"`
	CreatedAt   string        `json:"created_at"`
}

type Info struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Kind    string   `json:"kind"`
	Classes []string `json:"classes,omitempty"`
	Loaded  bool     `json:"loaded"`
}

type App struct {
	ID      string
	Title   string
	Kind    string
	classes []config.Class
	handle  *model.Handle
}

func (a *App) Info() Info {
	names := make([]string, len(a.classes))
	for i, c := range a.classes {
		names[i] = c.Name
	}
	return Info{ID: a.ID, Title: a.Title, Kind: a.Kind, Classes: names, Loaded: a.handle.Loaded()}
}

// validate rejects inputs of the wrong kind or with a disallowed extension
// before any decoding happens.
func (a *App) validate(in Input) error {
	switch a.Kind {
	case config.KindImage:
		if len(in.Data) == 0 {
			return fmt.Errorf("%w: %s expects an image", preprocess.ErrInvalidInput, a.ID)
		}
		if in.Filename != "" {
			return preprocess.CheckExtension(in.Filename)
		}
	case config.KindText:
		if strings.TrimSpace(in.Text) == "" {
			return fmt.Errorf("%w: %s expects text", preprocess.ErrInvalidInput, a.ID)
		}
	}
	return nil
}

func (a *App) tensor(in Input, meta model.Metadata) ([]float32, error) {
	switch a.Kind {
	case config.KindImage:
		img, err := preprocess.DecodeImage(bytes.NewReader(in.Data))
		if err != nil {
			return nil, err
		}
		w, h := imageDims(meta)
		return preprocess.ImageTensor(img, w, h, meta.Layout == model.LayoutNCHW), nil

	case config.KindText:
		seqLen := meta.SequenceLength
		if seqLen == 0 {
			seqLen = meta.InputSize()
		}
		return preprocess.TextTensor(in.Text, preprocess.TextOptions{
			Vocab:          meta.Vocab,
			SequenceLength: seqLen,
			PadIndex:       meta.PadIndex,
			OOVIndex:       meta.OOVIndex,
			PadPost:        meta.Padding == model.PaddingPost,
		})
	}
	return nil, fmt.Errorf("app %s: unknown kind %q", a.ID, a.Kind)
}

// imageDims prefers the explicit image_size, falling back to the spatial
// dimensions of the input shape.
func imageDims(meta model.Metadata) (int, int) {
	if meta.ImageSize > 0 {
		return meta.ImageSize, meta.ImageSize
	}
	s := meta.InputShape
	if len(s) == 4 {
		if meta.Layout == model.LayoutNCHW {
			return int(s[3]), int(s[2])
		}
		return int(s[2]), int(s[1])
	}
	return 0, 0
}

func (a *App) predict(ctx context.Context, in Input, t decision.Thresholds) (*Result, error) {
	if err := a.validate(in); err != nil {
		return nil, err
	}

	clf, err := a.handle.Get(ctx)
	if err != nil {
		return nil, err
	}
	meta := clf.Metadata

	input, err := a.tensor(in, meta)
	if err != nil {
		return nil, err
	}

	out, err := clf.Predict(input)
	if err != nil {
		return nil, err
	}

	var outcome decision.Outcome
	if meta.Binary() {
		outcome = decision.Binary(float64(out[0]), t)
	} else {
		scores := make([]float64, meta.OutputSize())
		for i := range scores {
			scores[i] = float64(out[i])
		}
		outcome, err = decision.Multi(scores, meta.Activation == model.ActivationSoftmax, t)
		if err != nil {
			return nil, err
		}
	}

	classes := a.classesFor(meta, len(outcome.Probabilities))
	winner := classes[outcome.Index]

	res := &Result{
		App:         a.ID,
		Label:       winner.Name,
		Emoji:       winner.Emoji,
		Color:       winner.Color,
		Probability: outcome.Probability,
		Confidence:  outcome.Confidence,
		Tier:        outcome.Tier,
		Message:     message(a.Kind, outcome.Tier, winner),
	}
	for i, p := range outcome.Probabilities {
		res.Classes = append(res.Classes, ClassScore{Name: classes[i].Name, Probability: p, Level: decision.ClassLevel(p)})
	}
	return res, nil
}

// classesFor merges configured display classes with the names shipped in the
// model metadata, filling any gap with a positional name.
func (a *App) classesFor(meta model.Metadata, n int) []config.Class {
	out := make([]config.Class, n)
	for i := range out {
		switch {
		case i < len(a.classes):
			out[i] = a.classes[i]
		case i < len(meta.Classes):
			out[i] = config.Class{Name: meta.Classes[i]}
		default:
			out[i] = config.Class{Name: fmt.Sprintf("class_%d", i)}
		}
	}
	return out
}

func message(kind string, tier decision.Tier, winner config.Class) string {
	label := strings.TrimSpace(winner.Name + " " + winner.Emoji)
	switch tier {
	case decision.TierHigh:
		return "Very confident this is " + label
	case decision.TierMedium:
		return "Fairly confident this is " + label
	}
	if kind == config.KindText {
		return "Not very confident. Try a longer or clearer sentence."
	}
	return "Not very confident. Try a clearer image."
}
