package main

import (
	"fieldscan/models"
	"fieldscan/workflow"
)

// Request/response DTOs. Keep them minimal and explicit.

type sessionResp struct {
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
}

type analysisResp struct {
	Result      models.AnalysisResult `json:"result"`
	IsAnalyzing bool                  `json:"isAnalyzing"`
}

type locationReq struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

type captureReq struct {
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	AutoStart bool     `json:"autoStart,omitempty"`
}

type captureResp struct {
	Result   models.AnalysisResult `json:"result"`
	Workflow workflow.Snapshot     `json:"workflow"`
}
