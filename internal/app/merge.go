package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"inkwell/api/internal/diff"
	"inkwell/api/internal/fingerprint"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

// MergeOutcome tags the result of a branch merge.
type MergeOutcome string

const (
	MergeFastForwarded MergeOutcome = "fastForwarded"
	MergeConflict      MergeOutcome = "conflict"
	MergeNoOp          MergeOutcome = "noop"
)

// ConflictDetails describes a diverged merge for manual resolution. Prose
// has no meaningful structural merge, so the engine never writes content on
// conflict.
type ConflictDetails struct {
	SourceTip diff.Meta   `json:"sourceTip"`
	TargetTip diff.Meta   `json:"targetTip"`
	Diff      diff.Result `json:"diff"`
}

// MergeResult is the tagged outcome of MergeBranch.
type MergeResult struct {
	Outcome  MergeOutcome     `json:"outcome"`
	Version  *store.Version   `json:"version,omitempty"`
	Conflict *ConflictDetails `json:"conflict,omitempty"`
}

// MergeBranch merges the source branch into the target. When the target tip
// is an ancestor of the source tip the merge fast-forwards: a new version
// is appended to the target carrying the source tip's content. Diverged
// branches produce a conflict result and write nothing.
func (s *Service) MergeBranch(ctx context.Context, sourceBranchID, targetBranchID, actor string) (*MergeResult, error) {
	if s.store == nil {
		return nil, notConfigured()
	}
	if sourceBranchID == targetBranchID {
		return nil, validationFailed("cannot merge a branch into itself", nil)
	}

	source, err := s.store.GetBranch(ctx, sourceBranchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("source branch not found")
	}
	if err != nil {
		return nil, err
	}
	target, err := s.store.GetBranch(ctx, targetBranchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("target branch not found")
	}
	if err != nil {
		return nil, err
	}
	if source.ProjectID != target.ProjectID {
		return nil, validationFailed("branches belong to different projects", nil)
	}

	// Serialize per scope so two merges into the same target cannot both
	// read the same tip and lose one of the writes.
	scope := Scope{ProjectID: target.ProjectID, DocumentID: target.DocumentID}
	lock := s.scopeLock(scope.key())
	lock.Lock()
	defer lock.Unlock()

	sourceTip, err := s.branchTip(ctx, source)
	if err != nil {
		return nil, err
	}
	targetTip, err := s.branchTip(ctx, target)
	if err != nil {
		return nil, err
	}

	if sourceTip.ID == targetTip.ID || sourceTip.ContentHash == targetTip.ContentHash {
		return &MergeResult{Outcome: MergeNoOp}, nil
	}

	targetIsAncestor, err := s.isAncestor(ctx, targetTip.ID, sourceTip)
	if err != nil {
		return nil, err
	}
	if !targetIsAncestor {
		// Already-merged source is a no-op, anything else has diverged.
		sourceIsAncestor, err := s.isAncestor(ctx, sourceTip.ID, targetTip)
		if err != nil {
			return nil, err
		}
		if sourceIsAncestor {
			return &MergeResult{Outcome: MergeNoOp}, nil
		}
		comparison := diff.Compare(targetTip, sourceTip)
		return &MergeResult{
			Outcome: MergeConflict,
			Conflict: &ConflictDetails{
				SourceTip: comparison.To,
				TargetTip: comparison.From,
				Diff:      comparison,
			},
		}, nil
	}

	merged, err := s.appendMergeVersion(ctx, source, target, sourceTip, targetTip, actor)
	if err != nil {
		return nil, err
	}
	return &MergeResult{Outcome: MergeFastForwarded, Version: &merged}, nil
}

// branchTip resolves the latest version on a branch, falling back to the
// fork point when the branch has no versions of its own yet.
func (s *Service) branchTip(ctx context.Context, branch store.Branch) (store.Version, error) {
	tip, err := s.store.LastVersionOnBranch(ctx, branch.ID)
	if err != nil {
		return store.Version{}, err
	}
	if tip != nil {
		return *tip, nil
	}
	forkPoint, err := s.store.GetVersion(ctx, branch.ParentVersionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Version{}, notFound("branch fork point version not found")
	}
	if err != nil {
		return store.Version{}, err
	}
	return forkPoint, nil
}

// isAncestor walks the parent chain from descendant looking for ancestorID.
// The seen set guards against a corrupted chain looping forever.
func (s *Service) isAncestor(ctx context.Context, ancestorID string, descendant store.Version) (bool, error) {
	seen := map[string]struct{}{descendant.ID: {}}
	current := descendant
	for current.ParentVersionID != nil {
		parentID := *current.ParentVersionID
		if parentID == ancestorID {
			return true, nil
		}
		if _, looped := seen[parentID]; looped {
			return false, validationFailed("version chain contains a cycle", parentID)
		}
		seen[parentID] = struct{}{}

		parent, err := s.store.GetVersion(ctx, parentID)
		if errors.Is(err, sql.ErrNoRows) {
			// broken link: the ancestor cannot be reached through it
			return false, nil
		}
		if err != nil {
			return false, err
		}
		current = parent
	}
	return false, nil
}

func (s *Service) appendMergeVersion(ctx context.Context, source, target store.Branch, sourceTip, targetTip store.Version, actor string) (store.Version, error) {
	// Same lock SaveVersion holds: a merge commit and a plain save racing
	// on the document would otherwise both read the same latest number.
	lock := s.documentLock(sourceTip.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	last, err := s.store.LastVersion(ctx, sourceTip.DocumentID)
	if err != nil {
		return store.Version{}, err
	}
	number := 1
	if last != nil {
		number = last.VersionNumber + 1
	}
	if actor == "" {
		actor = sourceTip.AuthorName
	}

	fp := fingerprint.Compute(sourceTip.Content)
	parent := targetTip.ID
	branchID := target.ID
	merged := store.Version{
		ID:              util.NewVersionID(),
		DocumentID:      sourceTip.DocumentID,
		BranchID:        &branchID,
		VersionNumber:   number,
		ParentVersionID: &parent,
		Content:         sourceTip.Content,
		Title:           sourceTip.Title,
		Summary:         sourceTip.Summary,
		Status:          sourceTip.Status,
		AuthorName:      actor,
		Message:         fmt.Sprintf("Merge branch %q into %q", source.Name, target.Name),
		Type:            "merge",
		ContentHash:     fp.Hash,
		WordCount:       fp.WordCount,
		CharCount:       fp.CharCount,
		Timestamp:       time.Now().UTC(),
	}
	if err := s.store.InsertVersion(ctx, merged); err != nil {
		return store.Version{}, createFailed("could not write merge version", err)
	}

	s.history.Invalidate(ctx, merged.DocumentID)
	s.indexVersion(merged)
	s.mirrorMerge(merged.DocumentID, source.Name, target.Name, merged)

	return merged, nil
}

func (s *Service) mirrorMerge(documentID, sourceName, targetName string, merged store.Version) {
	if s.mirror == nil {
		return
	}
	go func() {
		if err := s.mirror.EnsureRepo(documentID, merged.Content, merged.AuthorName); err != nil {
			log.Printf("mirror: ensure repo for %s: %v", documentID, err)
			return
		}
		if _, err := s.mirror.MirrorMerge(documentID, sourceName, targetName, merged.Content, merged.AuthorName, merged.Message); err != nil {
			log.Printf("mirror: merge for %s: %v", documentID, err)
		}
	}()
}
