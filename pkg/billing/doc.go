// Package billing implements the subscription billing core: the checkout
// orchestrator for user-initiated flows and the webhook reconciliation engine
// that converges locally stored billing state to the payment provider's
// authoritative state.
//
// The package is built around four collaborator interfaces that are injected
// as explicit dependencies (never reached as globals):
//
//   - PaymentGateway – thin wrapper over the payment provider (Stripe)
//   - UserStore – atomic read/write of the per-user subscription snapshot
//   - Dispatcher – fire-and-forget transactional email delivery
//   - TransitionLog – append-only audit trail of subscription transitions
//
// Two independent paths mutate the same subscription record: the client's own
// checkout confirmation and the provider's asynchronously delivered webhooks.
// Neither ordering nor exactly-once delivery is guaranteed, so every mutation
// here is written to be idempotent: handlers derive the full field set from
// the provider's current object and apply it as a single targeted write.
// Re-running a handler with the same input converges to the same state.
//
// # Usage
//
//	gateway, _ := billing.NewStripeGateway(stripeCfg)
//	store := billing.NewMongoUserStore(db)
//	svc := billing.NewCheckoutService(catalog, gateway, store, dispatcher,
//		billing.WithLogger(log))
//	engine := billing.NewReconciler(gateway, store, dispatcher, reminders,
//		billing.WithReconcilerLogger(log))
//
// The reconciler's Handle method takes the raw, unparsed webhook body exactly
// as received; signature verification happens inside the gateway before any
// event is dispatched.
package billing
