package cli

import (
	"context"
	"flag"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/peterbourgon/ff/ffyaml"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/tunegen/tunegen/pkg/cmd/download"
	"github.com/tunegen/tunegen/pkg/cmd/generate"
	"github.com/tunegen/tunegen/pkg/cmd/migrate"
	"github.com/tunegen/tunegen/pkg/cmd/model"
	"github.com/tunegen/tunegen/pkg/cmd/setting"
	"github.com/tunegen/tunegen/pkg/cmd/split"
	"github.com/tunegen/tunegen/pkg/cmd/train"
)

func New(version, commit, date string) *ffcli.Command {
	fs := flag.NewFlagSet("tunegen", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "tunegen [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(version, commit, date),
			newMigrateCommand(),
			newSettingCommand(),
			newGenerateCommand(),
			newTrainCommand(),
			newSplitCommand(),
			newModelCommand(),
			newDownloadCommand(),
		},
	}
}

func newVersionCommand(version, commit, date string) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "tunegen version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func options() []ff.Option {
	return []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parser),
		ff.WithEnvVarPrefix("TUNEGEN"),
	}
}

func newMigrateCommand() *ffcli.Command {
	cmd := "migrate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &migrate.Config{}

	fs.StringVar(&cfg.DBType, "db-type", "sqlite", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "tunegen.db", "path for sqlite, dsn for mysql or postgres")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("tunegen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "create or update the database schema",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return migrate.Run(ctx, cfg)
		},
	}
}

func newSettingCommand() *ffcli.Command {
	cmd := "setting"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &setting.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "sqlite", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "tunegen.db", "path for sqlite, dsn for mysql or postgres")
	fs.StringVar(&cfg.Key, "key", "", "preference key (output-dir, model-dir, dit-model, lm-model, zoom)")
	fs.StringVar(&cfg.Value, "value", "", "value to set")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("tunegen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "set or print app preferences",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return setting.Run(ctx, cfg)
		},
	}
}

func newGenerateCommand() *ffcli.Command {
	cmd := "generate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &generate.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "sqlite", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "tunegen.db", "path for sqlite, dsn for mysql or postgres")
	fs.DurationVar(&cfg.Timeout, "timeout", 0, "maximum time to run the process")
	fs.IntVar(&cfg.Concurrency, "concurrency", 1, "number of concurrent submissions")
	fs.DurationVar(&cfg.WaitMin, "wait-min", 1*time.Second, "minimum wait between submissions")
	fs.DurationVar(&cfg.WaitMax, "wait-max", 5*time.Second, "maximum wait between submissions")
	fs.IntVar(&cfg.Limit, "limit", 0, "limit the number of submissions (0 for no limit)")
	fs.StringVar(&cfg.Proxy, "proxy", "", "proxy URL (optional)")
	fs.StringVar(&cfg.StudioURL, "studio-url", "", "base URL of the generation backend")
	fs.StringVar(&cfg.Input, "input", "", "batch input file, json or csv (optional)")

	fs.StringVar(&cfg.Mode, "mode", "text2music", "generation mode")
	fs.StringVar(&cfg.Title, "title", "", "track title")
	fs.StringVar(&cfg.Caption, "caption", "", "style caption")
	fs.StringVar(&cfg.Lyrics, "lyrics", "", "lyrics, empty for instrumental")
	fs.BoolVar(&cfg.Instrumental, "instrumental", false, "force instrumental")
	fs.StringVar(&cfg.Language, "language", "", "vocal language")

	fs.IntVar(&cfg.BPM, "bpm", 0, "beats per minute (0 for auto)")
	fs.StringVar(&cfg.KeyScale, "key-scale", "", "key and scale, e.g. \"C major\"")
	fs.StringVar(&cfg.TimeSignature, "time-signature", "", "time signature, e.g. 4/4")

	fs.Float64Var(&cfg.Duration, "duration", -1, "duration in seconds (-1 for auto)")
	fs.IntVar(&cfg.InferSteps, "infer-steps", 0, "inference steps (0 for default)")
	fs.Float64Var(&cfg.Guidance, "guidance", 0, "guidance scale (0 for default)")
	fs.Float64Var(&cfg.Shift, "shift", 0, "timestep shift (0 for default)")
	fs.Int64Var(&cfg.Seed, "seed", 0, "sampling seed")
	fs.BoolVar(&cfg.RandomSeed, "random-seed", true, "use a random seed")
	fs.IntVar(&cfg.BatchSize, "batch-size", 1, "variations per submission")
	fs.IntVar(&cfg.Count, "count", 1, "number of submissions to fan out")

	fs.StringVar(&cfg.ReferenceAudio, "reference-audio", "", "reference audio path")
	fs.StringVar(&cfg.SourceAudio, "source-audio", "", "source audio path")
	fs.StringVar(&cfg.BlendAudio, "blend-audio", "", "blend audio path")
	fs.Float64Var(&cfg.SourceInfluence, "source-influence", 0.5, "source audio influence, 0 to 1")
	fs.Float64Var(&cfg.RepaintStart, "repaint-start", 0, "repaint window start in seconds")
	fs.Float64Var(&cfg.RepaintEnd, "repaint-end", -1, "repaint window end in seconds (-1 for open end)")
	fs.StringVar(&cfg.TrackType, "track-type", "", "track type for lego mode (vocal, bgm, drums...)")

	fs.BoolVar(&cfg.Simple, "simple", false, "simple authoring mode")
	fs.IntVar(&cfg.Weirdness, "weirdness", 50, "simple mode weirdness, 0 to 100")
	fs.IntVar(&cfg.StyleInfluence, "style-influence", 50, "simple mode style influence, 0 to 100")
	fs.IntVar(&cfg.AudioInfluence, "audio-influence", 50, "simple mode audio influence, 0 to 100")

	fs.BoolVar(&cfg.Thinking, "thinking", false, "enable language model thinking")
	fs.Float64Var(&cfg.Temperature, "temperature", 0, "language model temperature (0 for default)")
	fs.Float64Var(&cfg.CFG, "cfg", 0, "language model cfg scale (0 for default)")
	fs.IntVar(&cfg.TopK, "top-k", 0, "language model top-k (0 for default)")
	fs.Float64Var(&cfg.TopP, "top-p", 0, "language model top-p (0 for default)")

	fs.StringVar(&cfg.Format, "format", "mp3", "output format (mp3, flac, wav)")
	fs.StringVar(&cfg.Adapter, "adapter", "", "adapter name (optional)")
	fs.Float64Var(&cfg.AdapterStrength, "adapter-strength", 1, "adapter strength")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("tunegen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "build and submit generation requests",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return generate.Run(ctx, cfg)
		},
	}
}

func newTrainCommand() *ffcli.Command {
	cmd := "train"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &train.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.StudioURL, "studio-url", "", "base URL of the generation backend")
	fs.StringVar(&cfg.Job, "job", "", "act on a running job id instead of starting one")
	fs.StringVar(&cfg.Action, "action", "", "action for -job: pause, resume or cancel, empty to watch")
	fs.StringVar(&cfg.Dataset, "dataset", "", "dataset path on the backend")
	fs.StringVar(&cfg.DatasetFile, "dataset-file", "", "local dataset file to upload")
	fs.StringVar(&cfg.Experiment, "experiment", "", "experiment name")
	fs.StringVar(&cfg.BaseModel, "base-model", "", "base model to fine-tune")
	fs.IntVar(&cfg.Epochs, "epochs", 10, "number of epochs")
	fs.IntVar(&cfg.MaxSteps, "max-steps", 0, "maximum steps (0 for no limit)")
	fs.Float64Var(&cfg.LearningRate, "learning-rate", 1e-4, "learning rate")
	fs.IntVar(&cfg.BatchSize, "batch-size", 1, "batch size")
	fs.StringVar(&cfg.Precision, "precision", "bf16", "training precision")
	fs.IntVar(&cfg.SaveEvery, "save-every", 0, "save a checkpoint every n steps (0 for default)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("tunegen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "start a training job and wait for it",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return train.Run(ctx, cfg)
		},
	}
}

func newSplitCommand() *ffcli.Command {
	cmd := "split"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &split.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.StudioURL, "studio-url", "", "base URL of the generation backend")
	fs.StringVar(&cfg.Audio, "audio", "", "audio path on the backend")
	fs.StringVar(&cfg.AudioFile, "audio-file", "", "local audio file to upload")
	fs.StringVar(&cfg.Stems, "stems", "", "comma separated stems to extract")
	fs.StringVar(&cfg.Output, "output", "", "output directory on the backend")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("tunegen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "split audio into stems and wait for it",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return split.Run(ctx, cfg)
		},
	}
}

func newModelCommand() *ffcli.Command {
	cmd := "model"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &model.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.StudioURL, "studio-url", "", "base URL of the generation backend")
	fs.StringVar(&cfg.Name, "name", "", "model to download, empty to list models")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("tunegen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "list backend models or download one",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return model.Run(ctx, cfg)
		},
	}
}

func newDownloadCommand() *ffcli.Command {
	cmd := "download"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &download.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.DBType, "db-type", "sqlite", "db type (sqlite, mysql, postgres)")
	fs.StringVar(&cfg.DBConn, "db-conn", "tunegen.db", "path for sqlite, dsn for mysql or postgres")
	fs.IntVar(&cfg.Limit, "limit", 0, "limit the number of files (0 for no limit)")
	fs.StringVar(&cfg.FSType, "fs-type", "local", "file store type (local, s3)")
	fs.StringVar(&cfg.FSConn, "fs-conn", "", "file store connection string")
	fs.StringVar(&cfg.Input, "input", "", "directory where the backend writes generated audio")
	fs.StringVar(&cfg.Output, "output", "", "directory to restore archived audio to")
	fs.StringVar(&cfg.Format, "format", "mp3", "audio format (mp3, flac, wav)")
	fs.StringVar(&cfg.ID, "id", "", "generation id to restore (optional)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("tunegen %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "archive or restore generated audio",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return download.Run(ctx, cfg)
		},
	}
}
