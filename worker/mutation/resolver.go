package mutation

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/dreamware-labs/bspworker/worker/partition"
)

// Resolver applies a drained mutation buffer to a partition in the five-step
// deterministic order spec.md §4.3 specifies, iterating vertex ids in
// sorted order so the outcome does not depend on map iteration order or
// goroutine scheduling.
type Resolver struct {
	// CreateVertexOnMessages mirrors the RESOLVER_CREATE_VERTEX_ON_MESSAGES
	// configuration key: when true, a vertex with pending messages but no
	// add-vertex request is synthesized with the default value.
	CreateVertexOnMessages bool

	// Logger receives a warning for every dropped or ignored request the
	// resolver encounters, as spec.md §4.3 requires.
	Logger *logrus.Entry
}

// HasMessages reports whether vertex id has pending messages, used to
// decide whether an absent vertex should be synthesized in step 3.
type HasMessages func(id partition.ID) bool

// Apply resolves changes against p. changes should contain only vertex ids
// that belong to p's key space; the caller (the superstep controller) is
// responsible for routing a drained buffer to the right partition.
func (r *Resolver) Apply(p *partition.Partition, changes map[partition.ID]*ChangeSet, hasMessages HasMessages) {
	log := r.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	ids := make([]partition.ID, 0, len(changes))
	for id := range changes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		cs := changes[id]
		// Detach the vertex (if present) before mutating it in place: p's
		// cached vertex/edge counts are derived from a diff against the
		// version currently stored, so mutating a live reference without
		// detaching it first would make Put() diff the vertex against
		// itself and silently corrupt the edge count.
		current, _ := p.Take(id)

		// Step 1: prune requested edges, regardless of what happens to the
		// vertex afterwards.
		for _, target := range cs.RemovedEdgeTargets {
			if current == nil || !current.RemoveEdge(target) {
				log.WithFields(logrus.Fields{"vertex_id": id.String(), "target": target.String()}).
					Warn("remove-edge request: no matching edge")
			}
		}

		// Step 2: a remove-vertex request schedules deletion.
		if cs.RemoveVertexCount > 0 {
			current = nil
		}

		// Step 3: adopt or synthesize when the vertex is currently null.
		if current == nil {
			switch {
			case len(cs.AddedVertices) > 0:
				current = cs.AddedVertices[0]
				for _, extra := range cs.AddedVertices[1:] {
					log.WithFields(logrus.Fields{"vertex_id": id.String(), "dropped_id": extra.ID.String()}).
						Warn("add-vertex request: multiple additions for the same id, keeping the first")
				}
			case (r.CreateVertexOnMessages && hasMessages != nil && hasMessages(id)) || len(cs.AddedEdges) > 0:
				current = &partition.Vertex{ID: id}
			}
		} else if len(cs.AddedVertices) > 0 {
			// Step 4: the vertex already existed; ignore redundant adds.
			for _, extra := range cs.AddedVertices {
				log.WithFields(logrus.Fields{"vertex_id": id.String(), "dropped_id": extra.ID.String()}).
					Warn("add-vertex request: vertex already exists, ignoring")
			}
		}

		// Step 5: apply added edges, now that the vertex exists or not.
		if current != nil {
			for _, e := range cs.AddedEdges {
				current.AddEdge(e)
			}
		}

		// current is already detached (via Take) or nil; put it back only
		// if it still exists after resolution. A scheduled deletion with
		// nothing re-created simply stays detached.
		if current != nil {
			p.Put(current)
		}
	}
}
