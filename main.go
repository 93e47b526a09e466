package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/gen2brain/malgo"

	"meetcore/internal/api"
	"meetcore/internal/config"
	"meetcore/lifecycle"
)

func main() {
	cfg := config.Load()

	logFile := setupLogging(cfg.TraceLog)
	if logFile != nil {
		defer logFile.Close()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC: %v", r)
			panic(r)
		}
	}()

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal("failed to initialize audio backend:", err)
	}
	defer malgoCtx.Uninit()
	defer malgoCtx.Free()

	server := api.NewServer(cfg)

	ctrl := lifecycle.New(malgoCtx, server, lifecycle.Config{
		SampleRate:       cfg.SampleRate,
		Channels:         cfg.Channels,
		MicDeviceName:    cfg.MicDevice,
		SystemDeviceName: cfg.SystemDevice,
		CaptureSystem:    cfg.CaptureSystem,
		TranscribeURL:    cfg.TranscribeURL,
	})
	server.Controller = ctrl

	log.Println("starting meetcore")
	server.Start()
}

func setupLogging(path string) *os.File {
	if path == "" {
		return nil
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open trace log %s: %v\n", path, err)
		return nil
	}

	log.SetOutput(io.MultiWriter(os.Stdout, file))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Printf("trace log attached: %s", path)

	return file
}
