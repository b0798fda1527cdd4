// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/SyedDaiam9101/leaf-disease-service/internal/cache"
	"github.com/SyedDaiam9101/leaf-disease-service/internal/config"
	"github.com/SyedDaiam9101/leaf-disease-service/internal/handler"
	"github.com/SyedDaiam9101/leaf-disease-service/internal/inference"
	"github.com/SyedDaiam9101/leaf-disease-service/internal/metrics"
	"github.com/SyedDaiam9101/leaf-disease-service/internal/middleware"
	"github.com/SyedDaiam9101/leaf-disease-service/internal/preprocess"
)

const serviceName = "leaf-disease-service"

func main() {
	// Parse command-line flags
	port := flag.Int("port", 0, "HTTP API port (default: 8000)")
	metricsPort := flag.Int("metrics", 0, "Prometheus metrics port (default: 9100)")
	grpcPort := flag.Int("grpc", 0, "gRPC health port (default: disabled)")
	modelPath := flag.String("model", "", "Path to ONNX model file")
	metadataPath := flag.String("metadata", "", "Path to model metadata JSON (optional)")
	redisAddr := flag.String("redis", "", "Redis address for the prediction cache (optional)")
	templatesDir := flag.String("templates", "", "Directory containing index.html (optional)")
	staticDir := flag.String("static", "", "Directory served under /static/ (optional)")
	configFile := flag.String("config", "", "Path to config file (optional)")
	useMock := flag.Bool("mock", false, "Use mock inference engine (for testing)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override with flags if provided
	if *port > 0 {
		cfg.Port = *port
	}
	if *metricsPort > 0 {
		cfg.MetricsPort = *metricsPort
	}
	if *grpcPort > 0 {
		cfg.GRPCPort = *grpcPort
	}
	if *modelPath != "" {
		cfg.Model = *modelPath
	}
	if *metadataPath != "" {
		cfg.ModelMetadata = *metadataPath
	}
	if *redisAddr != "" {
		cfg.Redis = *redisAddr
	}
	if *templatesDir != "" {
		cfg.TemplatesDir = *templatesDir
	}
	if *staticDir != "" {
		cfg.StaticDir = *staticDir
	}
	if *useMock {
		cfg.UseMockInference = true
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	log.Printf("Starting %s...", serviceName)
	log.Printf("Configuration: port=%d, metrics=%d, grpc=%d, model=%s, redis=%q, image_size=%d, filter=%s, otel=%v",
		cfg.Port, cfg.MetricsPort, cfg.GRPCPort, cfg.Model, cfg.Redis, cfg.ImageSize, cfg.ResizeFilter, cfg.OTELEnabled)

	// Initialize OpenTelemetry tracer
	var tracerShutdown func(context.Context) error
	if cfg.OTELEnabled {
		tracerShutdown, err = initTracer(cfg.OTELEndpoint)
		if err != nil {
			log.Printf("Warning: Failed to initialize tracer: %v", err)
		} else {
			log.Printf("OpenTelemetry tracing enabled (endpoint: %s)", cfg.OTELEndpoint)
		}
	}

	// Load the model and build the classifier
	classifier, model, err := buildClassifier(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize classifier: %v", err)
	}
	defer model.Close()
	log.Printf("Classes: %v", classifier.Labels())
	log.Printf("Model input shape: %v", classifier.InputShape())

	// Initialize Redis cache (optional)
	var predictionCache handler.PredictionCache
	if cfg.Redis != "" {
		log.Printf("Connecting to Redis at %s...", cfg.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		cacheClient, err := cache.New(ctx, cache.Options{
			Addr:     cfg.Redis,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
		})
		cancel()
		if err != nil {
			log.Printf("Warning: Failed to connect to Redis: %v (continuing without cache)", err)
		} else {
			defer cacheClient.Close()
			predictionCache = cacheClient
			log.Printf("Redis connected successfully (ttl=%v)", cfg.CacheTTL)
		}
	}

	var templates *template.Template
	if cfg.TemplatesDir != "" {
		templates, err = template.ParseGlob(filepath.Join(cfg.TemplatesDir, "*.html"))
		if err != nil {
			log.Fatalf("Failed to parse templates in %s: %v", cfg.TemplatesDir, err)
		}
		log.Printf("Rendering templates from %s", cfg.TemplatesDir)
	}

	// Create health server shared by the HTTP probes and gRPC
	healthServer := health.NewServer()

	// Start HTTP server for metrics and health checks
	metricsServer := startMetricsServer(cfg.MetricsPort, healthServer)

	// Start optional gRPC health server
	var grpcServer *grpc.Server
	if cfg.GRPCPort > 0 {
		grpcServer, err = startGRPCServer(cfg.GRPCPort, healthServer, cfg.OTELEnabled)
		if err != nil {
			log.Fatalf("Failed to start gRPC server: %v", err)
		}
	}

	// Build the API server
	mux := http.NewServeMux()
	handler.New(classifier, predictionCache, handler.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Templates:      templates,
		StaticDir:      cfg.StaticDir,
	}).Register(mux)

	var api http.Handler = middleware.HTTPMetrics(mux)
	api = middleware.CORS(cfg.CORSOrigins)(api)
	if cfg.OTELEnabled {
		api = middleware.Tracing(api)
	}
	api = middleware.RequestID(api)

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	apiServer := &http.Server{
		Addr:              addr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Set health status to serving
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING) // Overall health
	metrics.SetHealthy()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)

		sig := <-sigChan
		log.Printf("Received signal %v, shutting down gracefully...", sig)

		// Set health to not serving
		healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		metrics.SetUnhealthy()

		// Give time for load balancers to detect unhealthy status
		time.Sleep(cfg.ShutdownGrace)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(ctx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		metricsServer.Shutdown(ctx)

		if tracerShutdown != nil {
			tracerShutdown(ctx)
		}
	}()

	log.Printf("HTTP API listening on %s", addr)
	log.Println("Endpoints:")
	log.Println("  GET  /        - Welcome")
	log.Println("  GET  /ping    - Liveness")
	log.Println("  POST /predict - Classify an uploaded leaf image (multipart field 'file')")
	log.Printf("%s is ready to accept requests", serviceName)

	if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to serve: %v", err)
	}

	<-done
	log.Printf("Server shutdown complete")
}

// buildClassifier loads the model named by cfg and checks that the label
// table, input shape and model agree before any request is served.
func buildClassifier(cfg *config.Config) (*inference.Classifier, inference.Model, error) {
	labels := cfg.ClassLabels
	height, width := cfg.ImageSize, cfg.ImageSize
	var inputShape []int64

	if cfg.ModelMetadata != "" {
		md, err := inference.LoadMetadata(cfg.ModelMetadata)
		if err != nil {
			return nil, nil, err
		}
		labels = md.Classes
		if md.ImageSize > 0 {
			height, width = md.ImageSize, md.ImageSize
		}
		if len(md.InputShape) == 4 {
			inputShape = md.InputShape
			// Without an explicit image_size the model's spatial dims decide.
			if md.ImageSize == 0 && inputShape[1] > 0 && inputShape[2] > 0 {
				height, width = int(inputShape[1]), int(inputShape[2])
			}
		}
		log.Printf("Loaded model metadata from %s", cfg.ModelMetadata)
	}

	produced := []int64{1, int64(height), int64(width), preprocess.Channels}
	if len(inputShape) == 0 {
		inputShape = produced
	}
	if !inference.ShapesCompatible(inputShape, produced) {
		return nil, nil, fmt.Errorf("model metadata expects input %v but preprocessing produces %v", inputShape, produced)
	}

	pre, err := preprocess.New(preprocess.Options{
		Width:         width,
		Height:        height,
		Filter:        preprocess.Filter(cfg.ResizeFilter),
		Normalization: preprocess.Normalization(cfg.Normalization),
	})
	if err != nil {
		return nil, nil, err
	}

	var model inference.Model
	if cfg.UseMockInference {
		log.Printf("Using mock inference engine")
		model = inference.NewMock()
	} else {
		log.Printf("Loading ONNX model from %s...", cfg.Model)
		onnx, err := inference.NewONNXModel(inference.ONNXOptions{
			ModelPath:         cfg.Model,
			SharedLibraryPath: cfg.ONNXLibrary,
			InputName:         cfg.InputName,
			OutputName:        cfg.OutputName,
			NumClasses:        int64(len(labels)),
		})
		if err != nil {
			return nil, nil, err
		}
		if onnx.NumClasses() != int64(len(labels)) {
			onnx.Close()
			return nil, nil, fmt.Errorf("model outputs %d classes but %d labels are configured", onnx.NumClasses(), len(labels))
		}
		if want := onnx.InputShape(); !inference.ShapesCompatible(want, produced) {
			onnx.Close()
			return nil, nil, fmt.Errorf("model expects input %v but preprocessing produces %v", want, produced)
		}
		model = onnx
		log.Printf("ONNX model loaded successfully")
	}

	classifier, err := inference.NewClassifier(model, pre, inference.Options{
		Labels:       labels,
		InputShape:   inputShape,
		ApplySoftmax: cfg.ApplySoftmax,
	})
	if err != nil {
		model.Close()
		return nil, nil, err
	}
	return classifier, model, nil
}

func startMetricsServer(port int, healthServer *health.Server) *http.Server {
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Health check endpoint
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp, err := healthServer.Check(r.Context(), &healthpb.HealthCheckRequest{})
		if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Service Unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Readiness check (same as healthz for now)
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		resp, err := healthServer.Check(r.Context(), &healthpb.HealthCheckRequest{Service: serviceName})
		if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not Ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s (metrics, health)", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return server
}

func startGRPCServer(port int, healthServer *health.Server, otelEnabled bool) (*grpc.Server, error) {
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestIDInterceptor(),
			middleware.UnaryMetricsInterceptor(),
		),
	}
	if otelEnabled {
		opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}

	server := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(server, healthServer)

	// Enable server reflection for debugging
	reflection.Register(server)

	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		log.Printf("gRPC health server listening on %s", addr)
		if err := server.Serve(lis); err != nil {
			log.Printf("gRPC server error: %v", err)
		}
	}()

	return server, nil
}

func initTracer(endpoint string) (func(context.Context) error, error) {
	if endpoint != "" {
		// OTLP export is not wired; spans go to stdout.
		log.Printf("Note: Using stdout trace exporter (OTLP endpoint: %s)", endpoint)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Create resource with service information
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	// Set global tracer provider and W3C trace-context propagation
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
