// Package factory provides a small generic registry used to instantiate
// modules from configuration. A module is described by a type string and a
// map of raw settings; its factory decodes the settings into a typed struct
// with Decode and returns the concrete implementation.
//
//	reg := factory.NewRegistry[dispatch.Strategy]()
//	_ = reg.Register("broadcast", func(conf map[string]any) (dispatch.Strategy, error) {
//	    var c struct{ Deadline string `json:"deadline"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    ...
//	})
package factory
