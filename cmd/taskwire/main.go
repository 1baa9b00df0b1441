package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/kazz187/taskwire/internal/archive"
	"github.com/kazz187/taskwire/internal/config"
	"github.com/kazz187/taskwire/pkg/clog"
	"github.com/kazz187/taskwire/pkg/storage"
)

var (
	app = kingpin.New("taskwire", "Inspect and convert encoded task records")

	formatFlag = app.Flag("format", "Wire format of the input (self-describing, compact-binary). Detected when omitted.").Short('f').String()

	decodeCmd  = app.Command("decode", "Decode an encoded record and print it as YAML")
	decodeFile = decodeCmd.Arg("file", "Encoded record; stdin when omitted").String()

	encodeCmd  = app.Command("encode", "Encode a YAML record")
	encodeFile = encodeCmd.Arg("file", "YAML record; stdin when omitted").String()
	encodeOut  = encodeCmd.Flag("out", "Output file; stdout when omitted").Short('o').String()

	transcodeCmd  = app.Command("transcode", "Re-encode a record in another format")
	transcodeFile = transcodeCmd.Arg("file", "Encoded record").Required().ExistingFile()
	transcodeTo   = transcodeCmd.Flag("to", "Target format").Required().String()
	transcodeOut  = transcodeCmd.Flag("out", "Output file; stdout when omitted").Short('o').String()

	diffCmd   = app.Command("diff", "Show a unified diff between two encoded records")
	diffA     = diffCmd.Arg("a", "First record").Required().ExistingFile()
	diffB     = diffCmd.Arg("b", "Second record").Required().ExistingFile()
	diffColor = diffCmd.Flag("color", "Colorize the diff").Default("true").Bool()

	watchCmd = app.Command("watch", "Decode records as they are written to a directory")
	watchDir = watchCmd.Arg("dir", "Directory to watch").Required().ExistingDir()

	archiveCmd     = app.Command("archive", "Read the configured archive")
	archiveLsCmd   = archiveCmd.Command("ls", "List archived records")
	archiveShowCmd = archiveCmd.Command("show", "Show one archived record")
	archiveShowUID = archiveShowCmd.Arg("uid", "Task uid").Required().String()
	archiveRejCmd  = archiveCmd.Command("rejected", "List rejected messages")
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading env: %v\n", err)
		os.Exit(1)
	}
	setupLogger(env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, command, env); err != nil {
		clog.LogError(clog.ContextWithSlog(ctx), "command failed", err)
		os.Exit(1)
	}
}

func setupLogger(env *config.Env) {
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))
}

func run(ctx context.Context, command string, env *config.Env) error {
	switch command {
	case decodeCmd.FullCommand():
		return runDecode(*decodeFile, *formatFlag, os.Stdout)
	case encodeCmd.FullCommand():
		return runEncode(*encodeFile, *formatFlag, env, *encodeOut)
	case transcodeCmd.FullCommand():
		return runTranscode(*transcodeFile, *formatFlag, *transcodeTo, *transcodeOut)
	case diffCmd.FullCommand():
		return runDiff(*diffA, *diffB, *formatFlag, *diffColor, os.Stdout)
	case watchCmd.FullCommand():
		return runWatch(ctx, *watchDir, *formatFlag, os.Stdout)
	case archiveLsCmd.FullCommand(), archiveShowCmd.FullCommand(), archiveRejCmd.FullCommand():
		store, err := newStorage(ctx, config.StorageEnvFromEnv(env))
		if err != nil {
			return err
		}
		a := archive.New(store)
		switch command {
		case archiveLsCmd.FullCommand():
			return runArchiveList(ctx, a, os.Stdout)
		case archiveShowCmd.FullCommand():
			return runArchiveShow(ctx, a, *archiveShowUID, os.Stdout)
		default:
			return runArchiveRejected(ctx, a, os.Stdout)
		}
	}
	return fmt.Errorf("unknown command %q", command)
}

func newStorage(ctx context.Context, env *config.StorageEnv) (storage.Storage, error) {
	switch env.Type {
	case "s3":
		s, err := storage.NewS3Storage(ctx, env.S3Bucket, env.S3Prefix, env.S3Region)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 storage: %w", err)
		}
		return s, nil
	default:
		s, err := storage.NewLocalStorage(env.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create local storage: %w", err)
		}
		return s, nil
	}
}

func readInput(file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(file)
}

func writeOutput(out string, data []byte) error {
	if out == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(out, data, 0o644)
}
