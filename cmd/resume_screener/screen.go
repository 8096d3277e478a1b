package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/resume-screener/internal/db"
	"github.com/jonathan/resume-screener/internal/ingestion"
	"github.com/jonathan/resume-screener/internal/observability"
	"github.com/jonathan/resume-screener/internal/ranking"
	"github.com/jonathan/resume-screener/internal/screening"
	"github.com/jonathan/resume-screener/internal/types"
)

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Screen a directory of resumes against a job description",
	Long: `Runs one screening session locally: generates criteria from the job
description, optionally refines them, scores every resume in the directory and
prints the ranked shortlist. Sessions are kept in memory.`,
	RunE: runScreenCmd,
}

var (
	screenJob      string
	screenResumes  string
	screenKeep     int
	screenNotes    string
	screenFeedback string
	screenOutput   string
)

// serviceOptions is appended to the options of every service built by a command
var serviceOptions []screening.Option

func init() {
	screenCmd.Flags().StringVarP(&screenJob, "job", "j", "", "Path to job description text file (required)")
	screenCmd.Flags().StringVarP(&screenResumes, "resumes", "r", "", "Directory of resume files (required)")
	screenCmd.Flags().IntVarP(&screenKeep, "keep", "k", 5, "Number of candidates to shortlist")
	screenCmd.Flags().StringVar(&screenNotes, "notes", "", "HR notes passed to criteria generation")
	screenCmd.Flags().StringVar(&screenFeedback, "feedback", "", "Feedback applied to the generated criteria before scoring")
	screenCmd.Flags().StringVarP(&screenOutput, "output", "o", "", "Write the ranked results as JSON to this file")

	_ = screenCmd.MarkFlagRequired("job")
	_ = screenCmd.MarkFlagRequired("resumes")

	rootCmd.AddCommand(screenCmd)
}

// screenOptions are the inputs of one local screening run
type screenOptions struct {
	JobDescription string
	KeepCount      int
	HRNotes        string
	Feedback       string
	Files          []ingestion.Upload
}

func runScreenCmd(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := os.ReadFile(screenJob)
	if err != nil {
		return fmt.Errorf("failed to read job description: %w", err)
	}
	files, err := ingestion.ReadDir(screenResumes)
	if err != nil {
		return fmt.Errorf("failed to read resumes: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no resume files found in %s", screenResumes)
	}

	service, err := newService(cfg, db.NewMemoryStore(), logger, serviceOptions...)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer func() { _ = service.Shutdown(context.Background()) }()

	results, err := runScreening(ctx, service, screenOptions{
		JobDescription: string(job),
		KeepCount:      screenKeep,
		HRNotes:        screenNotes,
		Feedback:       screenFeedback,
		Files:          files,
	}, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	if screenOutput != "" {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		if err := os.WriteFile(screenOutput, data, 0644); err != nil {
			return fmt.Errorf("failed to write results: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Results written to %s\n", screenOutput)
	}
	return nil
}

// runScreening drives one session from criteria generation to ranked results
func runScreening(ctx context.Context, service *screening.Service, opts screenOptions, out io.Writer) (*ranking.Results, error) {
	printer := observability.NewPrinter(out)
	log := observability.OrNop(logger)

	sess, err := service.StartSession(ctx, types.StartSessionRequest{
		JobDescription: opts.JobDescription,
		KeepCount:      opts.KeepCount,
		HRNotes:        opts.HRNotes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	printer.PrintCriteria(sess.Criteria, sess.CriteriaVersion)

	if strings.TrimSpace(opts.Feedback) != "" {
		refined, err := service.RefineCriteria(ctx, sess.ID, types.RefineRequest{Feedback: opts.Feedback})
		if err != nil {
			return nil, fmt.Errorf("failed to refine criteria: %w", err)
		}
		if refined.ChangesMade != "" {
			_, _ = fmt.Fprintf(out, "Changes: %s\n", refined.ChangesMade)
		}
		printer.PrintCriteria(refined.Criteria, refined.CriteriaVersion)
	}

	upload, err := service.UploadCandidates(ctx, sess.ID, opts.Files)
	if err != nil {
		return nil, fmt.Errorf("failed to upload resumes: %w", err)
	}
	for _, f := range upload.FailedFiles {
		log.Warn("Resume rejected", zap.String("filename", f.Filename), zap.String("error", f.Error))
	}
	for _, w := range upload.Warnings {
		log.Warn("Resume text incomplete", zap.String("filename", w.Filename), zap.String("warning", w.Warning))
	}
	if upload.UploadedCount == 0 {
		return nil, errors.New("none of the resume files could be read")
	}

	trigger, err := service.TriggerProcess(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to start scoring: %w", err)
	}
	if trigger.Done == nil {
		return nil, fmt.Errorf("scoring did not start: %s", trigger.Status)
	}
	select {
	case <-trigger.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	results, err := service.GetResults(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	printer.PrintResults(results)

	final, err := service.GetSession(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	printer.PrintSession(final)
	return results, nil
}
