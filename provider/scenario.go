package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/NodLabs/xviz/builder"
	"github.com/NodLabs/xviz/codec"
	"github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/xviz"
)

// ScenarioPrefix marks generated logs, e.g. "scenario_circle".
const ScenarioPrefix = "scenario_"

// Scenario start time, seconds.
const scenarioEpoch = 1000.0

const (
	streamVehiclePose = "/vehicle_pose"
	streamTrajectory  = "/vehicle/trajectory"
)

// Bounds on a generated log, whether set in configuration or per request.
const (
	MaxScenarioDuration = 3600.0 // seconds
	MaxScenarioHz       = 100.0
)

// ScenarioSpec sizes a generated log.
type ScenarioSpec struct {
	Name     string
	Duration float64 // seconds
	Hz       float64
}

// FrameCount returns round(Duration*Hz).
func (s ScenarioSpec) FrameCount() int {
	return int(math.Round(s.Duration * s.Hz))
}

// trajectory returns x, y and heading at time t seconds into the scenario.
type trajectory func(t float64) (x, y, yaw float64)

const scenarioSpeed = 10.0 // m/s

var scenarios = map[string]trajectory{
	"circle": func(t float64) (float64, float64, float64) {
		const radius = 30.0
		a := scenarioSpeed * t / radius
		return radius * math.Cos(a), radius * math.Sin(a), a + math.Pi/2
	},
	"straight": func(t float64) (float64, float64, float64) {
		return scenarioSpeed * t, 0, 0
	},
	"orbit": func(t float64) (float64, float64, float64) {
		const radius = 50.0
		a := -scenarioSpeed * t / radius
		return radius * math.Cos(a), radius * math.Sin(a), a - math.Pi/2
	},
}

// ScenarioNames lists the generators available to ScenarioEntry.
func ScenarioNames() []string {
	return slices.Sorted(maps.Keys(scenarios))
}

// ScenarioOptions configures the scenario entry.
type ScenarioOptions struct {
	Duration float64
	Hz       float64
	Logger   *slog.Logger
}

// ScenarioEntry returns the registry entry for generated logs. The query
// parameters "duration" and "hz" override the defaults per request; values
// beyond MaxScenarioDuration or MaxScenarioHz fail resolution with a
// ConfigurationError.
func ScenarioEntry(opts ScenarioOptions) Entry {
	return Entry{
		Name:         "scenario",
		Capabilities: NewCapabilities(SyntheticGenerated, StaticArchive),
		Options:      opts,
		Match:        opts.match,
		Factory:      newScenarioFromOptions,
	}
}

func (o ScenarioOptions) match(req Request) (string, bool) {
	name, ok := strings.CutPrefix(req.Log, ScenarioPrefix)
	if !ok {
		return "", false
	}
	if _, known := scenarios[name]; !known {
		return "", false
	}

	spec := ScenarioSpec{Name: name, Duration: o.Duration, Hz: o.Hz}
	if v, err := strconv.ParseFloat(req.Params.Get("duration"), 64); err == nil {
		spec.Duration = v
	}
	if v, err := strconv.ParseFloat(req.Params.Get("hz"), 64); err == nil {
		spec.Hz = v
	}
	return spec.key(), true
}

func (s ScenarioSpec) key() string {
	q := url.Values{}
	q.Set("duration", strconv.FormatFloat(s.Duration, 'g', -1, 64))
	q.Set("hz", strconv.FormatFloat(s.Hz, 'g', -1, 64))
	return ScenarioPrefix + s.Name + "?" + q.Encode()
}

func parseScenarioKey(key string) (ScenarioSpec, error) {
	u, err := url.Parse(key)
	if err != nil {
		return ScenarioSpec{}, err
	}
	spec := ScenarioSpec{Name: strings.TrimPrefix(u.Path, ScenarioPrefix)}
	if spec.Duration, err = strconv.ParseFloat(u.Query().Get("duration"), 64); err != nil {
		return ScenarioSpec{}, err
	}
	if spec.Hz, err = strconv.ParseFloat(u.Query().Get("hz"), 64); err != nil {
		return ScenarioSpec{}, err
	}
	return spec, nil
}

func newScenarioFromOptions(_ context.Context, key string, options any) (Provider, error) {
	opts, _ := options.(ScenarioOptions)
	spec, err := parseScenarioKey(key)
	if err != nil {
		return nil, errors.WrapInvalid(err, "ScenarioProvider", "newScenarioFromOptions", "parse key")
	}
	return NewScenarioProvider(spec, opts.Logger)
}

// ScenarioProvider generates a deterministic vehicle trajectory log.
type ScenarioProvider struct {
	spec   ScenarioSpec
	path   trajectory
	logger *slog.Logger
}

// NewScenarioProvider validates spec and returns its generator.
func NewScenarioProvider(spec ScenarioSpec, logger *slog.Logger) (*ScenarioProvider, error) {
	path, ok := scenarios[spec.Name]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unknown scenario %q", spec.Name),
			"ScenarioProvider", "NewScenarioProvider", "select generator")
	}
	if !(spec.Duration > 0 && spec.Duration <= MaxScenarioDuration) {
		return nil, errors.Configuration(
			fmt.Errorf("duration %g outside (0, %g]", spec.Duration, MaxScenarioDuration),
			"ScenarioProvider", "NewScenarioProvider", "validate spec")
	}
	if !(spec.Hz > 0 && spec.Hz <= MaxScenarioHz) {
		return nil, errors.Configuration(
			fmt.Errorf("hz %g outside (0, %g]", spec.Hz, MaxScenarioHz),
			"ScenarioProvider", "NewScenarioProvider", "validate spec")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScenarioProvider{
		spec:   spec,
		path:   path,
		logger: logger.With("component", "scenario-provider", "scenario", spec.Name),
	}, nil
}

// ID returns the scenario key.
func (p *ScenarioProvider) ID() string { return p.spec.key() }

// Capabilities returns synthetic-generated and static-archive.
func (p *ScenarioProvider) Capabilities() Capabilities {
	return NewCapabilities(SyntheticGenerated, StaticArchive)
}

// Formats returns JSON_STRING first, then every other format.
func (p *ScenarioProvider) Formats() []codec.Format {
	return []codec.Format{codec.JSONString, codec.JSONBuffer, codec.BinaryGLB}
}

// Hz returns the generated frame rate.
func (p *ScenarioProvider) Hz() float64 { return p.spec.Hz }

// Spec returns the scenario parameters.
func (p *ScenarioProvider) Spec() ScenarioSpec { return p.spec }

// Metadata declares the pose and trajectory streams.
func (p *ScenarioProvider) Metadata(_ context.Context) (*xviz.Message, error) {
	return xviz.NewMetadataMessage(&xviz.Metadata{
		Version: xviz.Version,
		LogInfo: &xviz.LogInfo{
			StartTime: scenarioEpoch,
			EndTime:   scenarioEpoch + p.spec.Duration,
		},
		Streams: map[string]xviz.StreamMetadata{
			streamVehiclePose: {Category: xviz.CategoryPose},
			streamTrajectory: {
				Category:   xviz.CategoryPrimitive,
				Type:       "polyline",
				Coordinate: "IDENTITY",
			},
		},
	}), nil
}

// Frames opens a generator positioned at start.
func (p *ScenarioProvider) Frames(_ context.Context, start int) (FrameIterator, error) {
	if start < 0 {
		start = 0
	}
	return &scenarioIterator{p: p, pos: start, total: p.spec.FrameCount()}, nil
}

// Close is a no-op.
func (p *ScenarioProvider) Close() error { return nil }

func (p *ScenarioProvider) frame(i int) Frame {
	t := float64(i) / p.spec.Hz
	ts := scenarioEpoch + t
	x, y, yaw := p.path(t)

	b := builder.New()
	b.Pose(streamVehiclePose).
		Timestamp(ts).
		MapOrigin(-122.4, 37.8, 0).
		Position(x, y, 0).
		Orientation(0, 0, yaw)

	// Next two seconds of travel.
	ahead := make([][3]float64, 0, 11)
	for k := 0; k <= 10; k++ {
		ax, ay, _ := p.path(t + float64(k)*0.2)
		ahead = append(ahead, [3]float64{ax, ay, 0})
	}
	b.Polyline(streamTrajectory, ahead)
	b.Link(streamTrajectory).Source(streamVehiclePose)

	return Frame{Index: i, Timestamp: ts, Message: b.Message(ts)}
}

type scenarioIterator struct {
	p     *ScenarioProvider
	pos   int
	total int
}

func (it *scenarioIterator) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if it.pos >= it.total {
		return Frame{}, io.EOF
	}
	f := it.p.frame(it.pos)
	it.pos++
	return f, nil
}

func (it *scenarioIterator) Close() error { return nil }
