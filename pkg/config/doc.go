// Package config loads declarative resource manifests.
//
// A manifest is a YAML document declaring the resources a stack is made of.
// Each resource has a kind and a name (together its identity), an optional
// location and parent, explicit dependencies, and a free-form property map.
// A property value is either a literal or a reference to another resource's
// runtime output, written as ${kind/name.property}:
//
//	name: translator-stack
//	resources:
//	  - kind: resource.group
//	    name: main
//	    location: westeurope
//	  - kind: storage.account
//	    name: docs
//	    location: westeurope
//	    parent: resource.group/main
//	    properties:
//	      sku: Standard_LRS
//	  - kind: translator.service
//	    name: xlate
//	    location: westeurope
//	    dependsOn:
//	      - storage.account/docs
//	    properties:
//	      documentStore: ${storage.account/docs.endpoint}
//
// Load parses and validates a manifest and converts it to engine resources in
// declaration order. Identity collisions and unparseable references are
// reported here; dangling targets are left to the graph builder, which sees
// the whole resource set.
package config
