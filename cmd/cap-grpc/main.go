// Command cap-grpc starts a configurable mock gRPC/HTTP2 server from a YAML
// configuration document, compiling the referenced .proto files, resolving
// per-method mocks through the template engine, and optionally proxying to
// an upstream socket before falling back to synthesized responses.
package main

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/DmitroKihtenko/cap-grpc/internal/applog"
	"github.com/DmitroKihtenko/cap-grpc/internal/config"
	"github.com/DmitroKihtenko/cap-grpc/internal/dispatch"
	"github.com/DmitroKihtenko/cap-grpc/internal/idl"
	"github.com/DmitroKihtenko/cap-grpc/internal/mock"
	"github.com/DmitroKihtenko/cap-grpc/internal/mockerr"
	"github.com/DmitroKihtenko/cap-grpc/internal/pipeline"
	"github.com/DmitroKihtenko/cap-grpc/internal/proxy"
	"github.com/DmitroKihtenko/cap-grpc/internal/registry"
	"github.com/DmitroKihtenko/cap-grpc/internal/template"
)

//go:embed example_config.yaml
var exampleConfig []byte

func main() {
	// Set as the first statement of main. Go runs the initialization of
	// every imported package, the gRPC ones included, before main starts, so
	// anything those packages read from the environment during init has
	// already been read by this point.
	_ = os.Setenv("GRPC_VERBOSITY", "NONE")

	var configPath string
	var printExample bool

	root := &cobra.Command{
		Use:           "cap-grpc",
		Short:         "configurable mock gRPC server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printExample {
				fmt.Println(string(exampleConfig))
				return nil
			}
			if configPath == "" {
				return errors.New("-c/--config is required (or pass -e to print an example configuration)")
			}
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")
	root.Flags().BoolVarP(&printExample, "example", "e", false, "print an example configuration and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	generalLogger, err := applog.NewLogger(cfg.GeneralLoggingConfig)
	if err != nil {
		return mockerr.New(mockerr.KindConfigLoad, "general logger", err)
	}
	apiLogs, err := applog.NewProcessor(cfg.APILoggingConfig)
	if err != nil {
		return mockerr.New(mockerr.KindConfigLoad, "api logger", err)
	}

	proxyCache := proxy.NewCache()
	defer proxyCache.Close()

	servers := make([]*dispatch.Server, 0, len(cfg.Servers))
	for _, serverCfg := range cfg.Servers {
		srv, err := buildServer(serverCfg, generalLogger, apiLogs, proxyCache)
		if err != nil {
			return err
		}
		servers = append(servers, srv)
	}

	errCh := make(chan error, len(servers))
	for _, s := range servers {
		s := s
		go func() { errCh <- s.Serve() }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		generalLogger.Info().Msg("received shutdown signal")
	}

	for _, s := range servers {
		s.Stop()
	}
	return nil
}

func buildServer(serverCfg config.ServerConfig, generalLogger *zerolog.Logger, apiLogs *applog.Processor, proxyCache *proxy.Cache) (*dispatch.Server, error) {
	protoFiles, err := idl.ResolveProtoFiles(serverCfg.ProtoFilesBaseDir, []string(serverCfg.ProtoFiles))
	if err != nil {
		return nil, mockerr.New(mockerr.KindProtoCompile, "resolve proto_files", err)
	}

	pool, err := idl.Compile(idl.CompileOptions{
		ProtoFiles: protoFiles,
		BaseDir:    serverCfg.ProtoFilesBaseDir,
		ProtocPath: "protoc",
	})
	if err != nil {
		return nil, err
	}
	reg := registry.New(pool.Files, pool.Types, pool.Structure)

	engine := template.NewEngine(serverCfg.ProtoFilesBaseDir, generalLogger)
	resolver := &mock.Resolver{Engine: engine, Logger: generalLogger}
	materializer := &mock.Materializer{Logger: generalLogger}

	sockets := make([]string, 0, len(serverCfg.Sockets))
	for _, s := range serverCfg.Sockets {
		sockets = append(sockets, s.Socket)
	}

	newProcessor := func(serviceFQN, methodName string, input, output protoreflect.MessageDescriptor, clientStreaming, serverStreaming bool) *pipeline.MethodProcessor {
		mp := pipeline.NewMethodProcessor()
		mp.Alias = serverCfg.Alias
		mp.Sockets = sockets
		mp.ServiceFQN = serviceFQN
		mp.Method = methodName
		mp.InputDesc = input
		mp.OutputDesc = output
		mp.ClientStreaming = clientStreaming
		mp.ServerStreaming = serverStreaming
		mp.RawMock = rawMockFor(serverCfg, serviceFQN, methodName)
		mp.Engine = engine
		mp.Resolver = resolver
		mp.Materializer = materializer
		mp.ProxyCache = proxyCache
		mp.Logs = apiLogs
		return mp
	}

	return dispatch.Build(serverCfg, reg, newProcessor, generalLogger)
}

func rawMockFor(serverCfg config.ServerConfig, serviceFQN, method string) any {
	byMethod, ok := serverCfg.Mocks[serviceFQN]
	if !ok {
		return nil
	}
	return byMethod[method]
}
