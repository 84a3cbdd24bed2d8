// Package client is the Go SDK for the audit ledger HTTP API.
//
// Producers append entries with a producer token:
//
//	c, err := client.New("https://ledger.internal:8080",
//	    client.WithBearerToken(os.Getenv("LEDGER_TOKEN")),
//	)
//	entry, err := c.Append(ctx, client.AppendRequest{
//	    Action:    "user.role.change",
//	    Actor:     client.Actor{ID: "u1", Email: "admin@example.com", Role: "admin", IP: "10.0.0.1"},
//	    Target:    &client.Target{Type: "user", ID: "u2"},
//	    RequestID: requestID,
//	})
//
// Auditors read and verify with an auditor token:
//
//	report, err := c.Verify(ctx, 0, 0)
//	if !report.Valid {
//	    for _, v := range report.Errors {
//	        log.Printf("entry %d: %s", v.SequenceNumber, v.Error)
//	    }
//	}
package client
