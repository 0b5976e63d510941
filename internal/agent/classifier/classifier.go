// Package classifier detects the type of an uploaded document from its
// first page and runs the two-phase confirmation flow: classify and
// ask, then on the user's reply confirm and ingest.
package classifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/ledgerchat/ledgerchat/internal/agent"
	"github.com/ledgerchat/ledgerchat/internal/ingest"
	"github.com/ledgerchat/ledgerchat/internal/log"
	"github.com/ledgerchat/ledgerchat/internal/prompts"
	"github.com/ledgerchat/ledgerchat/internal/session"
)

const (
	// TypeInvoice through TypeDocument are the closed set of document
	// types; TypeDocument is the catch-all.
	TypeInvoice       = "invoice"
	TypeLoan          = "loan"
	TypeBankStatement = "bank_statement"
	TypeDocument      = "document"
)

const (
	noPendingReply   = "There is no document waiting for confirmation. Please upload a file first."
	declinedReply    = "Okay, I won't save the document. You can upload it again any time."
	uploadFailedText = "I could not save the document. Please try uploading it again."
)

// validTypes is ordered; nearest-neighbor remapping breaks ties by
// this order.
var validTypes = []string{TypeInvoice, TypeLoan, TypeBankStatement, TypeDocument}

// pageClassification is the structured output of the first-page vision
// call.
type pageClassification struct {
	DocType  string            `json:"doc_type" jsonschema_description:"One of: invoice, loan, bank_statement, document"`
	Metadata map[string]string `json:"metadata,omitempty" jsonschema_description:"Extracted metadata fields for the detected type"`
}

// confirmDecision is the structured output of the confirmation-reply
// call.
type confirmDecision struct {
	Confirmed    bool   `json:"confirmed" jsonschema_description:"True when the user accepted the detected type"`
	SelectedType string `json:"selected_type,omitempty" jsonschema_description:"The type the user named instead, if any"`
	Declined     bool   `json:"declined,omitempty" jsonschema_description:"True when the user does not want the document saved at all"`
}

// Ingester sends confirmed documents to the ingestion service;
// *ingest.Client satisfies it.
type Ingester interface {
	Upload(ctx context.Context, req ingest.Request) (string, error)
}

// Agent classifies uploads and handles confirmation replies.
type Agent struct {
	g           *genkit.Genkit
	model       string
	visionModel string
	ingester    Ingester
	prompts     *prompts.Registry
	cache       *session.Cache
	logger      log.Logger
}

// New creates the classifier. visionModel handles the first-page call;
// model handles remapping and confirmation replies.
func New(g *genkit.Genkit, model, visionModel string, ingester Ingester,
	registry *prompts.Registry, cache *session.Cache, logger log.Logger) *Agent {
	return &Agent{
		g:           g,
		model:       model,
		visionModel: visionModel,
		ingester:    ingester,
		prompts:     registry,
		cache:       cache,
		logger:      logger.With("component", "classifier"),
	}
}

// Kind implements agent.Agent.
func (a *Agent) Kind() agent.Kind { return agent.KindClassifier }

// ClassifyUpload is phase one: detect the document type from the first
// page, stash the file and the uploader's bearer token in the thread
// state, and return the confirmation question. Classification failures
// fall back to the catch-all "document" type rather than failing the
// upload.
func (a *Agent) ClassifyUpload(ctx context.Context, threadID uuid.UUID, token, filename, contentType string, data []byte) (string, error) {
	docType, metadata := a.classifyPage(ctx, contentType, data)

	ts := a.cache.GetOrInit(threadID)
	ts.Upload = &session.UploadState{
		Stage:        session.StageAwaitingConfirmation,
		DetectedType: docType,
		Metadata:     metadata,
		Filename:     filename,
		ContentType:  contentType,
		FileBytes:    data,
		AuthToken:    token,
	}
	a.cache.Put(threadID, ts)

	a.logger.Info("document classified, awaiting confirmation",
		"thread_id", threadID, "filename", filename, "doc_type", docType)
	return fmt.Sprintf("This looks like a %s (%s). Should I save it as that? You can also name a different type: invoice, loan, bank statement or document.",
		humanType(docType), filename), nil
}

// Run is phase two: interpret the user's reply to the confirmation
// question and ingest, correct, or discard the pending upload.
func (a *Agent) Run(ctx context.Context, state *agent.State) (agent.Envelope, error) {
	env := agent.Envelope{Agent: agent.KindClassifier, Rationale: state.RouteReason}

	ts := a.cache.GetOrInit(state.ThreadID)
	upload := ts.Upload
	if upload == nil || upload.Stage != session.StageAwaitingConfirmation {
		env.Text = noPendingReply
		return env, nil
	}

	decision, err := a.decideConfirmation(ctx, upload.DetectedType, state.Query)
	if err != nil {
		a.logger.Warn("confirmation call failed, asking again", "error", err)
		env.Text = fmt.Sprintf("Sorry, I did not catch that. Should I save %s as a %s?",
			upload.Filename, humanType(upload.DetectedType))
		return env, nil
	}

	docType := ""
	switch {
	case decision.Confirmed:
		docType = upload.DetectedType
	case decision.SelectedType != "":
		// A named correction goes through the same remapping cascade as
		// the vision label, so "receipt" still lands on a valid type.
		docType = a.remapType(ctx, decision.SelectedType)
	case decision.Declined:
		ts.Upload = &session.UploadState{Stage: session.StageNew}
		a.cache.Put(state.ThreadID, ts)
		env.Text = declinedReply
		return env, nil
	default:
		// Neither a confirmation, a correction nor a decline: keep the
		// upload pending and ask again.
		env.Text = fmt.Sprintf("Sorry, I did not catch that. Should I save %s as a %s?",
			upload.Filename, humanType(upload.DetectedType))
		return env, nil
	}

	key, err := a.ingester.Upload(ctx, ingest.Request{
		CompanyID:   state.CompanyID,
		Filename:    upload.Filename,
		ContentType: upload.ContentType,
		DocType:     docType,
		Metadata:    upload.Metadata,
		Data:        upload.FileBytes,
		Token:       upload.AuthToken,
	})
	if err != nil {
		a.logger.Error("ingestion failed", "error", err, "filename", upload.Filename)
		upload.Stage = session.StageUploadFailed
		a.cache.Put(state.ThreadID, ts)
		env.Text = uploadFailedText
		return env, nil
	}

	upload.Stage = session.StageUploaded
	upload.FileBytes = nil
	upload.AuthToken = ""
	ts.DocumentUploaded = true
	ts.LastDocumentKey = key
	a.cache.Put(state.ThreadID, ts)

	a.logger.Info("document uploaded", "thread_id", state.ThreadID, "document_key", key, "doc_type", docType)
	env.Text = fmt.Sprintf("Saved %s as a %s. You can now ask questions about it.", upload.Filename, humanType(docType))
	env.Resources = []agent.Resource{{Agent: agent.KindClassifier, ID: key, Title: upload.Filename}}
	return env, nil
}

// classifyPage sends the first page to the vision model and remaps the
// returned label onto the valid set.
func (a *Agent) classifyPage(ctx context.Context, contentType string, data []byte) (string, map[string]string) {
	tpl, err := a.prompts.Get(ctx, prompts.NameClassifyPage)
	if err != nil {
		return TypeDocument, nil
	}

	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
	response, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.visionModel),
		ai.WithMessages(ai.NewUserMessage(
			ai.NewTextPart(tpl),
			ai.NewMediaPart(contentType, dataURL),
		)),
		ai.WithOutputType(pageClassification{}),
	)
	if err != nil {
		a.logger.Warn("page classification failed, defaulting to document", "error", err)
		return TypeDocument, nil
	}

	var result pageClassification
	if err := response.Output(&result); err != nil {
		return TypeDocument, nil
	}
	return a.remapType(ctx, result.DocType), result.Metadata
}

func (a *Agent) decideConfirmation(ctx context.Context, detectedType, reply string) (confirmDecision, error) {
	tpl, err := a.prompts.Get(ctx, prompts.NameConfirmDecision)
	if err != nil {
		return confirmDecision{}, err
	}

	response, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.model),
		ai.WithPrompt(fmt.Sprintf(tpl, detectedType, reply)),
		ai.WithOutputType(confirmDecision{}),
	)
	if err != nil {
		return confirmDecision{}, err
	}

	var decision confirmDecision
	if err := response.Output(&decision); err != nil {
		return confirmDecision{}, err
	}
	return decision, nil
}

func humanType(docType string) string {
	return strings.ReplaceAll(docType, "_", " ")
}
