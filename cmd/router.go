package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angeloszaimis/callguard/internal/handler"
	"github.com/angeloszaimis/callguard/internal/metrics"
)

func setupRouter(invokeHandler *handler.InvokeHandler, adminHandler *handler.AdminHandler, metricsCollector *metrics.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/invoke/", invokeHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stats", metricsCollector.Handler())
	mux.HandleFunc("/breakers", adminHandler.Breakers)
	mux.HandleFunc("/limits", adminHandler.Limits)
	mux.HandleFunc("/reset", adminHandler.Reset)

	return mux
}
