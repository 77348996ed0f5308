// Package poolcontroller is a client for a pool-equipment controller's
// HTTP/JSON API.
//
// A Session owns the connection parameters and discovers the controller's
// circuits. Each circuit becomes an Entity with cached state: a *Circuit for
// switches (function "generic") and lights ("intellibrite"), or a
// *Thermostat for bodies of water ("spa", "pool") which adds water
// temperature, setpoint and heater mode.
//
// # Refresh model
//
// The controller's full snapshot (GET temp + GET circuit) is shared by every
// entity. Entity.Update calls Session.UpdateData, which fetches at most once
// per scan interval:
//
//   - If another UpdateData is in flight it returns at once (no waiting).
//   - If the scan interval has not elapsed and no skip-wait is pending it
//     returns without fetching.
//   - Otherwise it fetches, overwrites each entity's data, and schedules the
//     next eligible fetch.
//
// Commands (SetState, SetTargetTemperature, SetHeaterMode) update the cache
// from the controller's reply and call SetSkipUpdateWait so the next
// UpdateData fetches regardless of the interval.
//
// # Errors
//
// Session.Request returns a *RequestError whose Kind distinguishes timeouts,
// transport failures, HTTP status errors, 404s and undecodable bodies. Each
// kind also matches a sentinel with errors.Is:
//
//	body, err := session.Request(ctx, "temp")
//	if errors.Is(err, poolcontroller.ErrTimeout) {
//	    // controller slow or unreachable
//	}
//
// # Usage
//
//	session, err := poolcontroller.NewSession(poolcontroller.OptionsFromConfig(cfg.Controller))
//	if err != nil {
//	    return err
//	}
//	if err := session.RefreshCircuits(ctx); err != nil {
//	    return err
//	}
//	for _, t := range session.Thermostats() {
//	    _ = t.Update(ctx)
//	    fmt.Println(t.Name(), t.CurrentTemperature())
//	}
package poolcontroller
