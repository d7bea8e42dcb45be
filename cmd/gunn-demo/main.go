package main

import (
	"context"
	"flag"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/gunn-ml/gunn"
)

var (
	metricsAddr = flag.String("metrics", "", "Address to serve Prometheus metrics on (e.g. :9090)")
	enableOTel  = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	seed        = flag.Int64("seed", 1, "Seed for the demo input data")
	rows        = flag.Int("rows", 4, "Batch rows for the distance demo")
	dim         = flag.Int("dim", 8, "Row width for the distance demo")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *metricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
				log.Fatal().Err(err).Msg("Metrics server failed")
			}
		}()
		log.Info().Str("addr", *metricsAddr).Msg("Serving Prometheus metrics")
	}

	ctx := gunn.NewContext()
	defer ctx.Destroy()
	stream := ctx.DefaultStream()
	tracer := otel.Tracer("gunn-demo")
	rng := rand.New(rand.NewSource(*seed))

	for _, step := range []struct {
		name string
		run  func() error
	}{
		{"maxpool", func() error { return demoMaxPool(ctx, stream, rng) }},
		{"pad", func() error { return demoPad(ctx, stream, rng) }},
		{"distance", func() error { return demoDistance(ctx, stream, rng) }},
		{"sin", func() error { return demoSin(ctx, stream, rng) }},
		{"onehot", func() error { return demoOneHot(ctx, stream) }},
		{"transpose", func() error { return demoTranspose(ctx, stream, rng) }},
	} {
		_, span := tracer.Start(context.Background(), step.name, trace.WithSpanKind(trace.SpanKindInternal))
		start := time.Now()
		err := step.run()
		span.End()
		if err != nil {
			log.Fatal().Err(err).Str("op", step.name).Msg("Demo step failed")
		}
		log.Info().Str("op", step.name).Dur("elapsed", time.Since(start)).Msg("Demo step finished")
	}

	names := gunn.DefaultRegistry.Names()
	log.Info().Strs("operators", names).Msg("Registered operators")
}

func randomTensor(ctx *gunn.Context, rng *rand.Rand, shape gunn.Shape) (gunn.Tensor, error) {
	data := make([]float32, shape.Size())
	for i := range data {
		data[i] = rng.Float32()*2 - 1
	}
	return ctx.NewTensorFrom(shape, data)
}

func demoMaxPool(ctx *gunn.Context, s *gunn.Stream, rng *rand.Rand) error {
	x, err := randomTensor(ctx, rng, gunn.Shape{1, 2, 8, 8})
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(x)

	op := gunn.MaxPoolWithIndex{Geom: gunn.ConvPoolGeom{
		KernelH: 2, KernelW: 2, StrideH: 2, StrideW: 2,
	}}
	y, mask, err := op.Run(ctx, s, x)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(y)
	defer ctx.FreeTensor(mask)

	dy, err := randomTensor(ctx, rng, y.Shape)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(dy)

	grad := gunn.MaxPoolWithIndexGradient{Geom: op.Geom}
	dx, err := grad.Run(ctx, s, x, dy, mask)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(dx)

	s.Synchronize()
	log.Info().
		Ints("pooled_shape", y.Shape).
		Int32("first_argmax", mask.Ptr.Int32()[0]).
		Msg("MaxPoolWithIndex")
	return nil
}

func demoPad(ctx *gunn.Context, s *gunn.Stream, rng *rand.Rand) error {
	x, err := randomTensor(ctx, rng, gunn.Shape{1, 1, 4, 4})
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(x)

	op := gunn.PadImage{Mode: gunn.PadReflect, PadT: 1, PadL: 1, PadB: 1, PadR: 1}
	y, err := op.Run(ctx, s, x)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(y)

	grad := gunn.PadImageGradient{Mode: op.Mode, PadT: 1, PadL: 1, PadB: 1, PadR: 1}
	dx, err := grad.Run(ctx, s, y)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(dx)

	s.Synchronize()
	log.Info().
		Ints("padded_shape", y.Shape).
		Str("mode", op.Mode.String()).
		Msg("PadImage")
	return nil
}

func demoDistance(ctx *gunn.Context, s *gunn.Stream, rng *rand.Rand) error {
	shape := gunn.Shape{*rows, *dim}
	x, err := randomTensor(ctx, rng, shape)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(x)
	y, err := randomTensor(ctx, rng, shape)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(y)

	l2, err := (gunn.SquaredL2Distance{}).Run(ctx, s, x, y)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(l2)

	cos := &gunn.CosineSimilarity{}
	defer cos.Release(ctx)
	c, err := cos.Run(ctx, s, x, y)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(c)

	s.Synchronize()
	log.Info().
		Float32("squared_l2_row0", l2.Ptr.Float32()[0]).
		Float32("cosine_row0", c.Ptr.Float32()[0]).
		Msg("Distance")
	return nil
}

func demoSin(ctx *gunn.Context, s *gunn.Stream, rng *rand.Rand) error {
	x, err := randomTensor(ctx, rng, gunn.Shape{16})
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(x)

	y, err := (gunn.Sin{}).Run(ctx, s, x)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(y)

	s.Synchronize()
	log.Info().Float32("sin_first", y.Ptr.Float32()[0]).Msg("Sin")
	return nil
}

func demoOneHot(ctx *gunn.Context, s *gunn.Stream) error {
	indices, err := ctx.NewTensor(gunn.Shape{4}, gunn.Int64Type)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(indices)
	copy(indices.Ptr.Int64(), []int64{0, 2, 1, 3})

	op := gunn.OneHot{Depth: 4}
	y, err := op.Run(ctx, s, indices)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(y)

	s.Synchronize()
	log.Info().Ints("onehot_shape", y.Shape).Msg("OneHot")
	return nil
}

func demoTranspose(ctx *gunn.Context, s *gunn.Stream, rng *rand.Rand) error {
	x, err := randomTensor(ctx, rng, gunn.Shape{2, 3, 4})
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(x)

	op := gunn.Transpose{Axes: []int{2, 0, 1}}
	y, err := op.Run(ctx, s, x)
	if err != nil {
		return err
	}
	defer ctx.FreeTensor(y)

	s.Synchronize()
	log.Info().Ints("transposed_shape", y.Shape).Msg("Transpose")
	return nil
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("gunn-demo"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}
