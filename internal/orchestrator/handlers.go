package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/durch/agneto/internal/agentrole"
	"github.com/durch/agneto/internal/checkpoint"
	"github.com/durch/agneto/internal/command"
	"github.com/durch/agneto/internal/execfsm"
	"github.com/durch/agneto/internal/model"
	"github.com/durch/agneto/internal/session"
	"github.com/durch/agneto/internal/verdict"
)

func assistantMessage(text string) model.Message {
	return model.Message{Role: model.RoleAssistant, Parts: []model.Part{model.TextPart{Text: text}}}
}

// runRefining drives the clarifying-question interview: every Refiner reply
// ending in "?" is surfaced as a question awaiting an answer; any other
// reply is offered to the human as a refined draft awaiting approval.
func (o *Orchestrator) runRefining(ctx context.Context) error {
	snap := o.task.Snapshot()
	ref := o.sessionRef(ctx, snap.TaskID, session.RoleRefiner)
	messages := []model.Message{agentrole.UserMessage(snap.HumanTask)}

	for {
		messages = append(messages, o.consumeInjection(snap.TaskID)...)
		in := agentrole.Input{
			Cwd:           snap.WorkingDirectory,
			Model:         o.deps.ModelName,
			Messages:      messages,
			SessionID:     ref.SessionID,
			IsInitialized: ref.IsInitialized,
			Callbacks:     o.callbacks(snap.TaskID),
		}
		out, err := agentrole.Refiner(ctx, o.deps.Client, in)
		if err != nil {
			return err
		}
		o.saveSession(ctx, ref)
		ref.IsInitialized = true

		text := strings.TrimSpace(out.RawText)
		messages = append(messages, assistantMessage(text))

		if strings.HasSuffix(text, "?") {
			o.task.AskQuestion(text)
			cmd, err := o.deps.Commands.AwaitCommand(ctx, command.QuestionAnswer, command.RefinementReject)
			if err != nil {
				return err
			}
			if cmd.Type == command.RefinementReject {
				o.task.RefinementCancelled()
				return nil
			}
			messages = append(messages, agentrole.UserMessage(cmd.Details))
			continue
		}

		o.task.RefinementReady(text)
		o.task.EmitRefinementAwaitingApproval()
		cmd, err := o.deps.Commands.AwaitCommand(ctx, command.RefinementApprove, command.RefinementReject)
		if err != nil {
			return err
		}
		switch cmd.Type {
		case command.RefinementApprove:
			o.task.RefinementComplete()
			return nil
		case command.RefinementReject:
			if cmd.Details == "" {
				o.task.RefinementCancelled()
				return nil
			}
			messages = append(messages, agentrole.UserMessage(fmt.Sprintf("Revise the draft per this feedback: %s", cmd.Details)))
		}
	}
}

// runPlanning produces plan markdown for the effective task, folding in any
// curmudgeon or human-retry feedback recorded on a prior loop.
func (o *Orchestrator) runPlanning(ctx context.Context) error {
	snap := o.task.Snapshot()
	messages := []model.Message{agentrole.UserMessage(snap.TaskToUse)}
	if snap.CurmudgeonFeedback != "" {
		messages = append(messages, agentrole.UserMessage("Simplify per this feedback: "+snap.CurmudgeonFeedback))
	}
	if snap.RetryFeedback != "" {
		messages = append(messages, agentrole.UserMessage("Address this feedback from review: "+snap.RetryFeedback))
	}
	messages = append(messages, o.consumeInjection(snap.TaskID)...)

	in := agentrole.Input{
		Cwd:       snap.WorkingDirectory,
		Model:     o.deps.ModelName,
		Messages:  messages,
		Callbacks: o.callbacks(snap.TaskID),
	}
	out, err := agentrole.Planner(ctx, o.deps.Client, in)
	if err != nil {
		o.task.PlanFailed(err)
		return nil
	}
	path, err := o.writePlan(snap.TaskID, out.RawText)
	if err != nil {
		o.task.PlanFailed(err)
		return nil
	}
	o.task.PlanCreated(out.RawText, path)
	return o.writeCheckpoint(ctx, checkpoint.TriggerPlanCreated)
}

// runCurmudgeoning reviews the current plan markdown for overengineering.
func (o *Orchestrator) runCurmudgeoning(ctx context.Context) error {
	snap := o.task.Snapshot()
	messages := []model.Message{agentrole.UserMessage(snap.PlanMarkdown)}
	messages = append(messages, o.consumeInjection(snap.TaskID)...)

	in := agentrole.Input{
		Cwd:       snap.WorkingDirectory,
		Model:     o.deps.ModelName,
		Messages:  messages,
		Callbacks: o.callbacks(snap.TaskID),
	}
	v, _, err := agentrole.Curmudgeon(ctx, o.deps.Client, in)
	if err != nil {
		// A Curmudgeon failure is a skipped review, not a task failure: proceed
		// into EXECUTING with the plan as written.
		v = verdict.Curmudgeon{Kind: verdict.CurmudgeonApprove}
	}
	o.task.CurmudgeonVerdict(v)
	return nil
}

// runExecuting drives the inner bean-counting/plan/review/code/review cycle
// to completion, handling the needs-human escape hatch at each review point
// via the command bus.
func (o *Orchestrator) runExecuting(ctx context.Context) error {
	snap := o.task.Snapshot()
	taskID := snap.TaskID
	exec := o.task.Exec()
	if exec == nil {
		return fmt.Errorf("orchestrator: EXECUTING reached with no inner execution FSM")
	}

	bcRef := o.sessionRef(ctx, taskID, session.RoleBeanCounter)
	coderRef := o.sessionRef(ctx, taskID, session.RoleCoder)
	reviewerRef := o.sessionRef(ctx, taskID, session.RoleReviewer)

	bcMessages := []model.Message{agentrole.UserMessage(snap.PlanMarkdown)}
	var coderMessages, reviewerMessages []model.Message

	for !exec.State().Terminal() {
		switch exec.State() {
		case execfsm.BeanCounting:
			bcMessages = append(bcMessages, o.consumeInjection(taskID)...)
			in := agentrole.Input{
				Cwd: snap.WorkingDirectory, Model: o.deps.ModelName, Messages: bcMessages,
				SessionID: bcRef.SessionID, IsInitialized: bcRef.IsInitialized, Callbacks: o.callbacks(taskID),
			}
			chunk, out, err := agentrole.BeanCounter(ctx, o.deps.Client, in)
			if err != nil {
				exec.ErrorOccurred(err)
				continue
			}
			o.saveSession(ctx, bcRef)
			bcRef.IsInitialized = true
			bcMessages = append(bcMessages, assistantMessage(out.RawText))
			exec.ChunkReceived(chunk)

		case execfsm.Planning:
			chunk := exec.Snapshot().CurrentChunk
			coderMessages = toChunkMessages(coderMessages, *chunk)
			coderMessages = append(coderMessages, o.consumeInjection(taskID)...)
			in := agentrole.Input{
				Cwd: snap.WorkingDirectory, Model: o.deps.ModelName, Messages: coderMessages,
				SessionID: coderRef.SessionID, IsInitialized: coderRef.IsInitialized, Callbacks: o.callbacks(taskID),
			}
			plan, out, err := agentrole.CoderPropose(ctx, o.deps.Client, in)
			if err != nil {
				exec.ErrorOccurred(err)
				continue
			}
			o.saveSession(ctx, coderRef)
			coderRef.IsInitialized = true
			coderMessages = append(coderMessages, assistantMessage(out.RawText))
			exec.PlanProposed(plan)

		case execfsm.PlanReview:
			plan := exec.Snapshot().CurrentPlan
			reviewerMessages = append(reviewerMessages, agentrole.UserMessage(
				fmt.Sprintf("Review this plan proposal:\n%s\nSteps: %v", plan.Description, plan.Steps)))
			reviewerMessages = append(reviewerMessages, o.consumeInjection(taskID)...)
			in := agentrole.Input{
				Cwd: snap.WorkingDirectory, Model: o.deps.ModelName, Messages: reviewerMessages,
				SessionID: reviewerRef.SessionID, IsInitialized: reviewerRef.IsInitialized, Callbacks: o.callbacks(taskID),
			}
			v, out, err := agentrole.ReviewPlan(ctx, o.deps.Client, in)
			if err != nil {
				exec.ErrorOccurred(err)
				continue
			}
			o.saveSession(ctx, reviewerRef)
			reviewerRef.IsInitialized = true
			reviewerMessages = append(reviewerMessages, assistantMessage(out.RawText))
			if v.Kind == verdict.PlanNeedsHuman {
				if snap.Options.NonInteractive {
					exec.ErrorOccurred(fmt.Errorf("orchestrator: needs-human plan verdict in non-interactive mode"))
					continue
				}
				v = o.resolvePlanNeedsHuman(ctx)
			}
			exec.PlanVerdict(v)

		case execfsm.Implementing:
			plan := exec.Snapshot().CurrentPlan
			coderMessages = append(coderMessages, agentrole.UserMessage(
				fmt.Sprintf("Apply the approved plan now: %s", plan.Description)))
			coderMessages = append(coderMessages, o.consumeInjection(taskID)...)
			in := agentrole.Input{
				Cwd: snap.WorkingDirectory, Model: o.deps.ModelName, Messages: coderMessages,
				SessionID: coderRef.SessionID, IsInitialized: coderRef.IsInitialized, Callbacks: o.callbacks(taskID),
			}
			out, err := agentrole.CoderApply(ctx, o.deps.Client, in)
			if err != nil {
				exec.ErrorOccurred(err)
				continue
			}
			o.saveSession(ctx, coderRef)
			coderRef.IsInitialized = true
			coderMessages = append(coderMessages, assistantMessage(out.RawText))

			message := "chunk applied"
			if chunk := exec.Snapshot().CurrentChunk; chunk != nil {
				message = chunk.Description
			}
			if _, err := o.deps.Git.CommitAll(ctx, message); err != nil {
				exec.ErrorOccurred(err)
				continue
			}
			exec.CodeApplied()

		case execfsm.CodeReview:
			reviewerMessages = append(reviewerMessages, agentrole.UserMessage(
				"Review the applied code changes against the chunk's requirements."))
			reviewerMessages = append(reviewerMessages, o.consumeInjection(taskID)...)
			in := agentrole.Input{
				Cwd: snap.WorkingDirectory, Model: o.deps.ModelName, Messages: reviewerMessages,
				SessionID: reviewerRef.SessionID, IsInitialized: reviewerRef.IsInitialized, Callbacks: o.callbacks(taskID),
			}
			v, out, err := agentrole.ReviewCode(ctx, o.deps.Client, in)
			if err != nil {
				exec.ErrorOccurred(err)
				continue
			}
			o.saveSession(ctx, reviewerRef)
			reviewerRef.IsInitialized = true
			reviewerMessages = append(reviewerMessages, assistantMessage(out.RawText))
			if v.Kind == verdict.CodeNeedsHuman {
				if snap.Options.NonInteractive {
					exec.ErrorOccurred(fmt.Errorf("orchestrator: needs-human code verdict in non-interactive mode"))
					continue
				}
				v = o.resolveCodeNeedsHuman(ctx)
			}
			exec.CodeVerdict(v)
			if v.Kind == verdict.CodeApprove || v.Kind == verdict.CodeStepComplete {
				bcMessages = append(bcMessages, agentrole.UserMessage("[CHUNK_COMPLETED]"))
				if err := o.writeCheckpoint(ctx, checkpoint.TriggerCodeApproved); err != nil {
					exec.ErrorOccurred(err)
					continue
				}
			}

		default:
			return fmt.Errorf("orchestrator: unexpected execution state %q", exec.State())
		}
	}

	switch exec.State() {
	case execfsm.TaskComplete:
		o.task.ExecutionComplete()
		return o.writeCheckpoint(ctx, checkpoint.TriggerCodeApproved)
	case execfsm.TaskFailed:
		o.task.ExecutionFailed(exec.Snapshot().LastError)
	}
	return nil
}

func (o *Orchestrator) resolvePlanNeedsHuman(ctx context.Context) verdict.Plan {
	cmd, err := o.deps.Commands.AwaitCommand(ctx, command.HumanReviewApprove, command.HumanReviewReject)
	if err != nil {
		return verdict.Plan{Kind: verdict.PlanReject, Feedback: err.Error()}
	}
	if cmd.Type == command.HumanReviewApprove {
		return verdict.Plan{Kind: verdict.PlanApprove}
	}
	return verdict.Plan{Kind: verdict.PlanReject, Feedback: cmd.Details}
}

func (o *Orchestrator) resolveCodeNeedsHuman(ctx context.Context) verdict.Code {
	cmd, err := o.deps.Commands.AwaitCommand(ctx, command.HumanReviewApprove, command.HumanReviewReject)
	if err != nil {
		return verdict.Code{Kind: verdict.CodeReject, Feedback: err.Error()}
	}
	if cmd.Type == command.HumanReviewApprove {
		return verdict.Code{Kind: verdict.CodeApprove}
	}
	return verdict.Code{Kind: verdict.CodeReject, Feedback: cmd.Details}
}

// runSuperReviewing reviews the full task diff against the baseline commit,
// escalating a needs-human verdict to the command bus.
func (o *Orchestrator) runSuperReviewing(ctx context.Context) error {
	snap := o.task.Snapshot()
	messages := []model.Message{agentrole.UserMessage(fmt.Sprintf("Baseline commit: %s", snap.BaselineCommit))}
	messages = append(messages, o.consumeInjection(snap.TaskID)...)

	in := agentrole.Input{
		Cwd:       snap.WorkingDirectory,
		Model:     o.deps.ModelName,
		Messages:  messages,
		Callbacks: o.callbacks(snap.TaskID),
	}
	v, _, err := agentrole.SuperReview(ctx, o.deps.Client, in)
	if err != nil {
		return err
	}
	o.task.SuperReviewVerdict(v)
	if v.Kind == verdict.SuperReviewApprove {
		return o.writeCheckpoint(ctx, checkpoint.TriggerSuperReview)
	}
	if snap.Options.NonInteractive {
		o.task.HumanAbandon()
		return o.writeCheckpoint(ctx, checkpoint.TriggerSuperReview)
	}

	cmd, err := o.deps.Commands.AwaitCommand(ctx, command.SuperReviewApprove, command.SuperReviewRetry, command.SuperReviewAbandon)
	if err != nil {
		return err
	}
	switch cmd.Type {
	case command.SuperReviewApprove:
		o.task.HumanApproved()
	case command.SuperReviewRetry:
		o.task.HumanRetry(cmd.Details)
	case command.SuperReviewAbandon:
		o.task.HumanAbandon()
	}
	return o.writeCheckpoint(ctx, checkpoint.TriggerSuperReview)
}

// runGardening runs the stateless post-task documentation pass. Failure is
// never fatal: GardeningComplete is called with whatever result came back.
func (o *Orchestrator) runGardening(ctx context.Context) error {
	snap := o.task.Snapshot()
	messages := []model.Message{agentrole.UserMessage(fmt.Sprintf("Task completed: %s", snap.TaskToUse))}

	in := agentrole.Input{
		Cwd:       snap.WorkingDirectory,
		Model:     o.deps.ModelName,
		Messages:  messages,
		Callbacks: o.callbacks(snap.TaskID),
	}
	result := agentrole.Gardener(ctx, o.deps.Client, in)
	o.task.GardeningComplete(result)
	return nil
}
