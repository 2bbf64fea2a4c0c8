// Package siox provides a typed, documented Socket.IO v4 event bus in Go.
//
// Events are declared as values with a payload model, grouped, and
// attached to namespaces. Inbound payloads are validated and decoded into
// Go structs before a handler runs; outbound payloads are rendered from
// structs. The catalogue of every event and model is exported as an
// AsyncAPI 2.2.0 document served next to the Socket.IO endpoint.
//
// The transport implements the Socket.IO v4 protocol over Engine.IO v4
// with WebSocket transport only.
//
// # Declaring events
//
//	type CreateWidget struct {
//	    Name string `json:"name"`
//	}
//
//	type Widget struct {
//	    ID   int    `json:"id"`
//	    Name string `json:"name"`
//	}
//
//	type Widgets struct {
//	    CreateWidget *siox.ClientEvent
//	    WidgetAdded  *siox.ServerEvent
//	}
//
//	var ctrl Widgets
//	ctrl.WidgetAdded = siox.NewServerEvent[Widget]()
//	ctrl.CreateWidget = siox.NewClientEvent(func(c *siox.Context, in CreateWidget) (any, error) {
//	    w := store.Add(in.Name)
//	    if err := ctrl.WidgetAdded.Emit(c, w, siox.IncludeSelf(false)); err != nil {
//	        return nil, err
//	    }
//	    return w, nil
//	}, siox.Ack[Widget](), siox.DocAbort(409, "Widget exists"))
//
// # Namespaces
//
//	server := siox.NewServer(nil, siox.WithIdentity(siox.JWTIdentity(keyFunc)))
//	group := server.NewGroup()
//	if err := group.Route(&ctrl); err != nil {
//	    log.Fatal(err)
//	}
//	ns, err := server.AddNamespace("/widgets", group)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	_ = ns.MarkProtected("user_id")
//
//	http.ListenAndServe(":3000", server)
//
// A protected namespace refuses connections without an identity value and
// joins accepted sockets to UserRoom of that value, so Relay with ToUser
// reaches every other connection of one user.
//
// # Acknowledgements
//
// A handler returning an *EventError (see Abort) acknowledges with
// {code, message, data}; a critical one also disconnects the socket.
// Returning a Reply sets code and message explicitly. Other errors are
// passed to the server ErrorHandler and nothing is sent back.
//
// # Lookups and authorization
//
// Search loads the entity named by a "<name>_id" payload field before the
// handler runs and aborts with 404 when there is none. Authorize resolves
// a principal from the connection identity and aborts with 401 or 403.
// Both document their failures and leave their results on the Context:
//
//	siox.NewClientEvent(renameWidget,
//	    siox.Authorize("user_id", users.Find),
//	    siox.Search("widget", widgets.Find),
//	)
//
// # Thread Safety
//
// All operations are goroutine-safe. Events of one socket are handled in
// order by a single goroutine; different sockets are handled concurrently.
package siox
