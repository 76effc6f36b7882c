// Package processor runs the claim/execute loops that drive processor-mode
// tasks.
//
// Each Processor repeatedly claims the next eligible task in one short
// transaction, creates its Job or Callback row in a second, and executes it.
// When nothing is eligible the loop suspends on its Signal until a sibling
// component calls Scheduler.Check, the optional poll interval elapses, or
// the processor is stopped. The Reconciler repairs what a crash between
// those transactions leaves behind.
package processor
