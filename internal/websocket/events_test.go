package websocket

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestHubBroadcasterExecutionStarted(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	hub := NewHub(logger)
	go hub.Run()

	broadcaster := NewHubBroadcaster(hub)

	// Create test client subscribed to execution room
	client := &Client{
		ID:            "test-client",
		UserID:        "tenant-1",
		Hub:           hub,
		Send:          make(chan []byte, 256),
		Subscriptions: make(map[string]bool),
	}

	hub.Register <- client
	time.Sleep(10 * time.Millisecond)

	executionID := "exec-123"
	hub.SubscribeClient(client, "execution:"+executionID)

	// Broadcast execution started
	broadcaster.BroadcastExecutionStarted("tenant-1", "workflow-1", executionID, 5)

	// Wait and receive message
	time.Sleep(50 * time.Millisecond)

	select {
	case msg := <-client.Send:
		var event ExecutionEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}

		if event.Type != EventTypeExecutionStarted {
			t.Errorf("Expected type %s, got %s", EventTypeExecutionStarted, event.Type)
		}

		if event.ExecutionID != executionID {
			t.Errorf("Expected execution_id %s, got %s", executionID, event.ExecutionID)
		}

		if event.Status != "running" {
			t.Errorf("Expected status 'running', got %s", event.Status)
		}

		if event.Progress == nil {
			t.Fatal("Progress should not be nil")
		}

		if event.Progress.TotalNodes != 5 {
			t.Errorf("Expected total_steps 5, got %d", event.Progress.TotalNodes)
		}

		if event.Progress.CompletedNodes != 0 {
			t.Errorf("Expected completed_steps 0, got %d", event.Progress.CompletedNodes)
		}

	case <-time.After(200 * time.Millisecond):
		t.Fatal("Did not receive message")
	}
}

func TestHubBroadcasterExecutionCompleted(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	hub := NewHub(logger)
	go hub.Run()

	broadcaster := NewHubBroadcaster(hub)

	client := &Client{
		ID:            "test-client",
		UserID:        "tenant-1",
		Hub:           hub,
		Send:          make(chan []byte, 256),
		Subscriptions: make(map[string]bool),
	}

	hub.Register <- client
	time.Sleep(10 * time.Millisecond)

	executionID := "exec-123"
	hub.SubscribeClient(client, "execution:"+executionID)

	// Broadcast execution completed
	output := json.RawMessage(`{"result":"success","data":{"count":42}}`)
	broadcaster.BroadcastExecutionCompleted("tenant-1", "workflow-1", executionID, output)

	time.Sleep(50 * time.Millisecond)

	select {
	case msg := <-client.Send:
		var event ExecutionEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}

		if event.Type != EventTypeExecutionCompleted {
			t.Errorf("Expected type %s, got %s", EventTypeExecutionCompleted, event.Type)
		}

		if event.Status != "completed" {
			t.Errorf("Expected status 'completed', got %s", event.Status)
		}

		if event.Output == nil {
			t.Fatal("Output should not be nil")
		}

	case <-time.After(200 * time.Millisecond):
		t.Fatal("Did not receive message")
	}
}

func TestHubBroadcasterExecutionFailed(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	hub := NewHub(logger)
	go hub.Run()

	broadcaster := NewHubBroadcaster(hub)

	client := &Client{
		ID:            "test-client",
		UserID:        "tenant-1",
		Hub:           hub,
		Send:          make(chan []byte, 256),
		Subscriptions: make(map[string]bool),
	}

	hub.Register <- client
	time.Sleep(10 * time.Millisecond)

	executionID := "exec-123"
	hub.SubscribeClient(client, "execution:"+executionID)

	// Broadcast execution failed
	errorMsg := "Node http-request failed: connection timeout"
	broadcaster.BroadcastExecutionFailed("tenant-1", "workflow-1", executionID, errorMsg)

	time.Sleep(50 * time.Millisecond)

	select {
	case msg := <-client.Send:
		var event ExecutionEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}

		if event.Type != EventTypeExecutionFailed {
			t.Errorf("Expected type %s, got %s", EventTypeExecutionFailed, event.Type)
		}

		if event.Status != "failed" {
			t.Errorf("Expected status 'failed', got %s", event.Status)
		}

		if event.Error == nil || *event.Error != errorMsg {
			t.Errorf("Expected error '%s', got '%v'", errorMsg, event.Error)
		}

	case <-time.After(200 * time.Millisecond):
		t.Fatal("Did not receive message")
	}
}

func TestHubBroadcasterStepStarted(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	hub := NewHub(logger)
	go hub.Run()

	broadcaster := NewHubBroadcaster(hub)

	client := &Client{
		ID:            "test-client",
		UserID:        "tenant-1",
		Hub:           hub,
		Send:          make(chan []byte, 256),
		Subscriptions: make(map[string]bool),
	}

	hub.Register <- client
	time.Sleep(10 * time.Millisecond)

	executionID := "exec-123"
	hub.SubscribeClient(client, "execution:"+executionID)

	// Broadcast step started
	broadcaster.BroadcastNodeStarted("tenant-1", "workflow-1", executionID, "node-1", "action:http")

	time.Sleep(50 * time.Millisecond)

	select {
	case msg := <-client.Send:
		var event ExecutionEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}

		if event.Type != EventTypeNodeStarted {
			t.Errorf("Expected type %s, got %s", EventTypeNodeStarted, event.Type)
		}

		if event.Node == nil {
			t.Fatal("Step should not be nil")
		}

		if event.Node.NodeID != "node-1" {
			t.Errorf("Expected node_id 'node-1', got %s", event.Node.NodeID)
		}

		if event.Node.NodeType != "action:http" {
			t.Errorf("Expected node_type 'action:http', got %s", event.Node.NodeType)
		}

		if event.Node.Status != "running" {
			t.Errorf("Expected status 'running', got %s", event.Node.Status)
		}

	case <-time.After(200 * time.Millisecond):
		t.Fatal("Did not receive message")
	}
}

func TestHubBroadcasterStepCompleted(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	hub := NewHub(logger)
	go hub.Run()

	broadcaster := NewHubBroadcaster(hub)

	client := &Client{
		ID:            "test-client",
		UserID:        "tenant-1",
		Hub:           hub,
		Send:          make(chan []byte, 256),
		Subscriptions: make(map[string]bool),
	}

	hub.Register <- client
	time.Sleep(10 * time.Millisecond)

	executionID := "exec-123"
	hub.SubscribeClient(client, "execution:"+executionID)

	// Broadcast step completed
	output := json.RawMessage(`{"statusCode":200,"body":"OK"}`)
	broadcaster.BroadcastNodeCompleted("tenant-1", "workflow-1", executionID, "node-1", output, 150)

	time.Sleep(50 * time.Millisecond)

	select {
	case msg := <-client.Send:
		var event ExecutionEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}

		if event.Type != EventTypeNodeCompleted {
			t.Errorf("Expected type %s, got %s", EventTypeNodeCompleted, event.Type)
		}

		if event.Node == nil {
			t.Fatal("Step should not be nil")
		}

		if event.Node.Status != "completed" {
			t.Errorf("Expected status 'completed', got %s", event.Node.Status)
		}

		if event.Node.DurationMs == nil || *event.Node.DurationMs != 150 {
			t.Errorf("Expected duration_ms 150, got %v", event.Node.DurationMs)
		}

	case <-time.After(200 * time.Millisecond):
		t.Fatal("Did not receive message")
	}
}

func TestHubBroadcasterProgress(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	hub := NewHub(logger)
	go hub.Run()

	broadcaster := NewHubBroadcaster(hub)

	client := &Client{
		ID:            "test-client",
		UserID:        "tenant-1",
		Hub:           hub,
		Send:          make(chan []byte, 256),
		Subscriptions: make(map[string]bool),
	}

	hub.Register <- client
	time.Sleep(10 * time.Millisecond)

	executionID := "exec-123"
	hub.SubscribeClient(client, "execution:"+executionID)

	// Broadcast progress
	broadcaster.BroadcastProgress("tenant-1", "workflow-1", executionID, 3, 5)

	time.Sleep(50 * time.Millisecond)

	select {
	case msg := <-client.Send:
		var event ExecutionEvent
		if err := json.Unmarshal(msg, &event); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}

		if event.Type != EventTypeExecutionProgress {
			t.Errorf("Expected type %s, got %s", EventTypeExecutionProgress, event.Type)
		}

		if event.Progress == nil {
			t.Fatal("Progress should not be nil")
		}

		if event.Progress.CompletedNodes != 3 {
			t.Errorf("Expected completed_steps 3, got %d", event.Progress.CompletedNodes)
		}

		if event.Progress.TotalNodes != 5 {
			t.Errorf("Expected total_steps 5, got %d", event.Progress.TotalNodes)
		}

		expectedPercentage := 60.0
		if event.Progress.Percentage != expectedPercentage {
			t.Errorf("Expected percentage %.1f, got %.1f", expectedPercentage, event.Progress.Percentage)
		}

	case <-time.After(200 * time.Millisecond):
		t.Fatal("Did not receive message")
	}
}

func TestBroadcastToMultipleRooms(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	hub := NewHub(logger)
	go hub.Run()

	broadcaster := NewHubBroadcaster(hub)

	// Create client subscribed to execution, workflow, and tenant rooms
	client := &Client{
		ID:            "test-client",
		UserID:        "tenant-1",
		Hub:           hub,
		Send:          make(chan []byte, 256),
		Subscriptions: make(map[string]bool),
	}

	hub.Register <- client
	time.Sleep(10 * time.Millisecond)

	executionID := "exec-123"
	workflowID := "workflow-1"
	tenantID := "tenant-1"

	hub.SubscribeClient(client, "execution:"+executionID)
	hub.SubscribeClient(client, "workflow:"+workflowID)
	hub.SubscribeClient(client, "user:"+tenantID)

	// Broadcast execution started (should go to all 3 rooms)
	broadcaster.BroadcastExecutionStarted(tenantID, workflowID, executionID, 5)

	time.Sleep(50 * time.Millisecond)

	// Should receive 3 copies of the message (one per room subscription)
	messageCount := 0
	for i := 0; i < 3; i++ {
		select {
		case <-client.Send:
			messageCount++
		case <-time.After(100 * time.Millisecond):
			break
		}
	}

	if messageCount != 3 {
		t.Errorf("Expected 3 messages (one per room), got %d", messageCount)
	}
}
