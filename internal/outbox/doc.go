// Package outbox is the service's transactional task queue.
//
// # Overview
//
// Producers never talk to Temporal or Kafka directly. Instead they append a
// row to outbox_events inside the transaction that caused it, so a job or a
// domain event exists if and only if the triggering write committed.
//
// # Components
//
//   - Emitter: builds outbox rows and inserts them through the transaction's repository
//   - Relay: claims due rows with FOR UPDATE SKIP LOCKED and hands them to a
//     JobDispatcher (rows typed "job.<name>") or an EventPublisher (everything else)
//
// # Event Types
//
//   - job.dedupe, job.keyterm_suggestion, job.classifier_training: start a background job
//   - study.status_changed: a study's citation or fulltext status moved
//   - review.dedupe_completed: a dedupe run replaced the review's duplicate set
//
// # Usage
//
// Enqueue a job inside a unit of work:
//
//	err := tx.InTx(ctx, func(ctx context.Context, s repository.Stores) error {
//	    _, err := outbox.NewEmitter(s.Outbox).Enqueue(ctx, domain.JobDedupe,
//	        domain.JobArgs{ReviewID: id, Trigger: domain.TriggerManual}, 0)
//	    return err
//	})
//
// Delivery is at-least-once. Job rows start a workflow whose ID is the event
// ID, so redelivery of the same row is absorbed by Temporal.
package outbox
