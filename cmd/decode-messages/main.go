package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Gunvolt24/mq_reader/internal/batch"
	"github.com/Gunvolt24/mq_reader/internal/broker/memory"
	"github.com/Gunvolt24/mq_reader/internal/envelopefile"
	"github.com/Gunvolt24/mq_reader/internal/reader"
	"github.com/Gunvolt24/mq_reader/internal/sink/jsonl"
	"github.com/Gunvolt24/mq_reader/pkg/logger"
	"github.com/Gunvolt24/mq_reader/pkg/validate"
)

// CLI: прогон конвертов из файла через декодер без брокера.
// Декодированные элементы печатаются в stdout как JSONL, сводка — в stderr.
func main() {
	inputPath := flag.String("in", "-", "path to input (.json or .jsonl); - reads stdin")
	formatStr := flag.String("format", "auto", "input format: auto|json|jsonl")
	destination := flag.String("dest", "offline", "destination for records without one")
	selectorExpr := flag.String("selector", "", "filter expression, e.g. JMSType == \"OrderCreated\"")
	shapeStr := flag.String("shape", "auto", "item shape: auto|envelope")
	skipValidation := flag.Bool("skip-validation", false, "do not validate decoded objects")
	failFast := flag.Bool("fail-fast", false, "stop at the first undecodable message")
	logLevel := flag.String("log-level", "warn", "log level: debug|info|warn|error")
	flag.Parse()

	os.Exit(run(options{
		in:             *inputPath,
		format:         envelopefile.InputFormat(*formatStr),
		destination:    *destination,
		selector:       *selectorExpr,
		shape:          *shapeStr,
		skipValidation: *skipValidation,
		failFast:       *failFast,
		logLevel:       *logLevel,
	}))
}

type options struct {
	in             string
	format         envelopefile.InputFormat
	destination    string
	selector       string
	shape          string
	skipValidation bool
	failFast       bool
	logLevel       string
}

func run(opts options) int {
	ctx := context.Background()

	logg, cleanup, err := logger.New(logger.Options{Level: opts.logLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 2
	}
	defer func() { _ = cleanup() }()

	shape, err := reader.ParseShape(opts.shape)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}

	itemValidator := validate.NewItemValidator()
	msgs, loaded, err := envelopefile.NewLoader(itemValidator, opts.destination, logg).LoadFile(ctx, opts.in, opts.format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load: %v\n", err)
		return 1
	}

	b := memory.NewBroker()
	b.Publish(opts.destination, msgs...)
	session := memory.NewSession(b, logg)
	defer func() { _ = session.Close() }()

	// очередь уже заполнена: короткий таймаут означает «сообщения кончились»
	itemReader := reader.NewReader(reader.Config{
		Timeout:        10 * time.Millisecond,
		TargetShape:    shape,
		SkipValidation: opts.skipValidation,
	}, session, itemValidator, logg)

	skipLimit := len(msgs)
	if opts.failFast {
		skipLimit = 0
	}

	out := jsonl.NewWriter(os.Stdout, false)
	defer func() { _ = out.Close() }()

	runner := batch.NewChunkRunner(batch.Config{
		Destination: opts.destination,
		Selector:    opts.selector,
		ChunkSize:   100,
		SkipLimit:   skipLimit,
	}, itemReader, out, logg)

	runErr := runner.Run(ctx)
	st := runner.Stats()
	summary := fmt.Sprintf("loaded=%d invalid_records=%d decoded=%d written=%d skipped=%d",
		loaded.Loaded, loaded.Invalid, st.Read, st.Written, st.Skipped)
	rest := len(msgs) - st.Read - st.Skipped

	if runErr != nil {
		// при ошибке остаток включает и непрочитанные сообщения
		fmt.Fprintf(os.Stderr, "decode: %v (%s unread=%d)\n", runErr, summary, rest)
		return 1
	}
	fmt.Fprintf(os.Stderr, "decode ok (%s filtered=%d)\n", summary, rest)
	return 0
}
