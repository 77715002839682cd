// main package for the voice-clone command line client.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Flag descriptions.
const (
	flagServerDesc = "Base URL of the voice-clone service"
	flagHealthDesc = "Check service health and exit"
	flagListDesc   = "List voice profiles and exit"
	flagUploadDesc = "Path to a reference sample (.wav or .mp3) to upload"
	flagNameDesc   = "Display name for the uploaded voice"
	flagVoiceDesc  = "Voice profile id for synthesis or deletion"
	flagTextDesc   = "Text to synthesize"
	flagOutputDesc = "Output file path for synthesized audio (.wav)"
	flagDeleteDesc = "Delete the voice given by -voice"
)

const (
	defaultServerURL  = "http://localhost:8080"
	defaultOutputFile = "output.wav"
	requestTimeout    = 10 * time.Minute
)

var (
	errNoAction       = errors.New("one of -health, -list, -upload, -text or -delete is required")
	errNameRequired   = errors.New("-name is required with -upload")
	errVoiceRequired  = errors.New("-voice is required")
	errServiceFailure = errors.New("service request failed")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server string
	health bool
	list   bool
	upload string
	name   string
	voice  string
	text   string
	output string
	delete bool
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()
	client := &http.Client{Timeout: requestTimeout}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch {
	case flags.health:
		return checkHealth(ctx, client, flags.server)
	case flags.list:
		return listVoices(ctx, client, flags.server)
	case flags.upload != "":
		if flags.name == "" {
			return errNameRequired
		}

		return uploadVoice(ctx, client, flags.server, flags.upload, flags.name)
	case flags.delete:
		if flags.voice == "" {
			return errVoiceRequired
		}

		return deleteVoice(ctx, client, flags.server, flags.voice)
	case flags.text != "":
		if flags.voice == "" {
			return errVoiceRequired
		}

		return synthesize(ctx, client, flags.server, flags.voice, flags.text, flags.output)
	default:
		return errNoAction
	}
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.server, "server", defaultServerURL, flagServerDesc)
	flag.BoolVar(&flags.health, "health", false, flagHealthDesc)
	flag.BoolVar(&flags.list, "list", false, flagListDesc)
	flag.StringVar(&flags.upload, "upload", "", flagUploadDesc)
	flag.StringVar(&flags.name, "name", "", flagNameDesc)
	flag.StringVar(&flags.voice, "voice", "", flagVoiceDesc)
	flag.StringVar(&flags.text, "text", "", flagTextDesc)
	flag.StringVar(&flags.output, "output", defaultOutputFile, flagOutputDesc)
	flag.BoolVar(&flags.delete, "delete", false, flagDeleteDesc)
	flag.Parse()

	return flags
}

func checkHealth(ctx context.Context, client *http.Client, server string) error {
	body, err := doRequest(ctx, client, http.MethodGet, server+"/health", "", nil)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", body)

	return nil
}

func listVoices(ctx context.Context, client *http.Client, server string) error {
	body, err := doRequest(ctx, client, http.MethodGet, server+"/voices", "", nil)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", body)

	return nil
}

func uploadVoice(ctx context.Context, client *http.Client, server, samplePath, name string) error {
	sample, err := os.ReadFile(samplePath)
	if err != nil {
		return fmt.Errorf("failed to read sample file: %w", err)
	}

	var form bytes.Buffer

	writer := multipart.NewWriter(&form)

	fieldErr := writer.WriteField("display_name", name)
	if fieldErr != nil {
		return fmt.Errorf("failed to build upload form: %w", fieldErr)
	}

	part, partErr := writer.CreateFormFile("sample", filepath.Base(samplePath))
	if partErr != nil {
		return fmt.Errorf("failed to build upload form: %w", partErr)
	}

	_, writeErr := part.Write(sample)
	if writeErr != nil {
		return fmt.Errorf("failed to build upload form: %w", writeErr)
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return fmt.Errorf("failed to build upload form: %w", closeErr)
	}

	body, err := doRequest(ctx, client, http.MethodPost, server+"/voices",
		writer.FormDataContentType(), &form)
	if err != nil {
		return err
	}

	fmt.Printf("Voice accepted for derivation: %s\n", body)

	return nil
}

func deleteVoice(ctx context.Context, client *http.Client, server, voiceID string) error {
	_, err := doRequest(ctx, client, http.MethodDelete, server+"/voices/"+voiceID, "", nil)
	if err != nil {
		return err
	}

	fmt.Printf("Deleted voice %s\n", voiceID)

	return nil
}

func synthesize(
	ctx context.Context,
	client *http.Client,
	server, voiceID, text, outputPath string,
) error {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		server+"/voices/"+voiceID+"/synthesize",
		bytes.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("failed to read response: %w", readErr)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: %s", errServiceFailure, resp.Status, body)
	}

	writeErr := os.WriteFile(outputPath, body, 0o600)
	if writeErr != nil {
		return fmt.Errorf("failed to write output file: %w", writeErr)
	}

	fmt.Printf("Generated: %s (%d bytes)\n", outputPath, len(body))

	return nil
}

// doRequest performs a request with an optional body and returns the
// response bytes, treating any non-2xx status as an error.
func doRequest(
	ctx context.Context,
	client *http.Client,
	method, url, contentType string,
	body io.Reader,
) ([]byte, error) {
	if body == nil {
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response: %w", readErr)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s: %s", errServiceFailure, resp.Status, responseBody)
	}

	return responseBody, nil
}
