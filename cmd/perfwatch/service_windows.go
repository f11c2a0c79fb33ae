//go:build windows

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/debug"
	"golang.org/x/sys/windows/svc/eventlog"

	"perfwatch/internal/monitor"
	"perfwatch/internal/sources"
)

const serviceName = "perfwatch"

// perfwatchService implements the Windows service interface.
type perfwatchService struct {
	configFile string
	logger     *slog.Logger
	host       *monitor.Host
	elog       debug.Log
}

func (s *perfwatchService) logInfo(msg string) {
	if s.elog != nil {
		_ = s.elog.Info(1, msg)
	}
}

func (s *perfwatchService) logError(msg string) {
	if s.elog != nil {
		_ = s.elog.Error(1, msg)
	}
}

// Execute is called by the Windows Service Control Manager when the service is started.
func (s *perfwatchService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (ssec bool, errno uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown

	// Report to the SCM before anything slow happens.
	changes <- svc.Status{State: svc.StartPending}

	cfg, err := loadConfig(s.configFile)
	if err != nil {
		s.logError(fmt.Sprintf("failed to load config from %s: %v", s.configFile, err))
		return true, 1
	}

	s.logger = setupLoggingWithFile(cfg.Logging)
	slog.SetDefault(s.logger)
	s.logger.Info(fmt.Sprintf("perfwatch version %s service starting", version),
		"config_file", s.configFile,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.host, err = buildHost(ctx, cfg, sources.NewRegistry(s.logger), s.logger)
	if err != nil {
		s.logger.Error("failed to create host in service mode", "error", err)
		s.logError(fmt.Sprintf("failed to create host: %v", err))
		return true, 1
	}

	// Snapshots have no console in service mode; drain them so the
	// broadcaster never counts a slow subscriber.
	sub := s.host.Events(cfg.Host.SnapshotBuffer)
	go writeEvents(io.Discard, sub, s.logger)

	hostErrors := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				msg := fmt.Sprintf("CRITICAL PANIC in host.Run: %v", r)
				s.logger.Error(msg)
				s.logError(msg)
				hostErrors <- fmt.Errorf("host panicked: %v", r)
			}
		}()
		hostErrors <- s.host.Run(ctx)
	}()

	changes <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}
	s.logger.Info("perfwatch Windows service started and running")
	s.logInfo("Service is now running and accepting control requests")

	for {
		select {
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus

			case svc.Stop, svc.Shutdown:
				s.logger.Info("received stop/shutdown request, stopping service")
				changes <- svc.Status{State: svc.StopPending}

				// Run shuts the host down once ctx is cancelled.
				cancel()
				if err := <-hostErrors; err != nil {
					s.logger.Error("error during graceful shutdown", "error", err)
					s.logError(fmt.Sprintf("error during shutdown: %v", err))
				} else {
					s.logger.Info("host shutdown completed successfully")
				}
				return false, 0

			default:
				s.logger.Warn("received unexpected service control request", "cmd", c.Cmd)
			}

		case err := <-hostErrors:
			if err != nil {
				s.logger.Error("CRITICAL: host stopped unexpectedly", "error", err)
				s.logError(fmt.Sprintf("CRITICAL: host stopped unexpectedly: %v", err))
				return true, 1
			}
			s.logger.Warn("host exited without error, stopping service")
			return false, 0
		}
	}
}

// runService runs perfwatch as a Windows service.
func runService(configFile string, isDebug bool) error {
	service := &perfwatchService{configFile: configFile}

	var err error
	if isDebug {
		elog := debug.New(serviceName)
		defer elog.Close()
		service.elog = elog

		fmt.Printf("Running perfwatch in Windows service debug mode\n")
		err = debug.Run(serviceName, service)
	} else {
		elog, openErr := eventlog.Open(serviceName)
		if openErr != nil {
			return fmt.Errorf("failed to open event log: %v", openErr)
		}
		defer elog.Close()
		service.elog = elog

		_ = elog.Info(1, "starting perfwatch Windows service")
		err = svc.Run(serviceName, service)
	}

	if err != nil {
		return fmt.Errorf("failed to run service: %v", err)
	}
	return nil
}

// checkServiceMode determines if we're running as a Windows service.
func checkServiceMode() (bool, error) {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false, fmt.Errorf("failed to check if running as Windows service: %v", err)
	}
	return isService, nil
}
