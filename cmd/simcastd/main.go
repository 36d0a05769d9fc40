// Command simcastd runs the screen mirroring relay: it ingests H.264
// from a capture app (WebSocket) or RTMP publisher, serves the video
// to browsers over WebRTC, and forwards browser input to the device
// through WebDriverAgent.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/thesyncim/simcast"
)

func main() {
	cfg := simcast.LoadConfig()

	log.Printf("simcastd starting")
	log.Printf("  viewer HTTP:  %s", cfg.HTTPAddr)
	log.Printf("  WS ingest:    %s", cfg.IngestAddr)
	log.Printf("  RTMP ingest:  %s", cfg.RTMPAddr)
	log.Printf("  WDA:          %s", cfg.WDAURL)
	if !simcast.IsH264Available() {
		log.Printf("  warning: native H.264 library not found; set SIMCAST_H264_LIB_PATH")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := simcast.NewPipeline(simcast.NewH264Decoder, simcast.PipelineConfig{
		QueueSize: cfg.QueueSize,
		Width:     cfg.Width,
		Height:    cfg.Height,
		FPS:       cfg.FPS,
	})
	defer pipeline.Close()

	translator := simcast.NewCoordinateTranslator(simcast.Geometry{
		ScaleFactor: cfg.ScaleFactor,
	})

	wda := simcast.NewWDAManager(cfg.WDAURL)
	control := simcast.NewControlChannel(wda, translator, pipeline)
	wda.OnConnect(func(width, height int) {
		// WDA reports sizes in points already.
		translator.SetGeometry(simcast.Geometry{
			DeviceWidth:  width,
			DeviceHeight: height,
			ScaleFactor:  1,
		})
		control.BroadcastStatus()
	})
	go wda.Run(ctx)

	receiver := simcast.NewReceiver(cfg.IngestAddr, pipeline)
	if err := receiver.Start(ctx); err != nil {
		log.Fatalf("ingest: %v", err)
	}

	if cfg.RTMPAddr != "" {
		rtmpSrc := simcast.NewRTMPSource(cfg.RTMPAddr, pipeline)
		if err := rtmpSrc.Start(ctx); err != nil {
			log.Fatalf("rtmp: %v", err)
		}
	}

	webrtcSrv := simcast.NewWebRTCServer(pipeline, cfg.BitrateBps)
	server := simcast.NewServer(cfg.HTTPAddr, pipeline, webrtcSrv, control, wda, receiver)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}

	<-ctx.Done()
	log.Printf("simcastd shutting down")
}
