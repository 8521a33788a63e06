package notebook

// DefaultWelcome is the code of the single cell a fresh notebook starts with
const DefaultWelcome = `// Welcome to JS Notebook!

console.log("Hello, World!");

// Each cell runs in complete isolation
const message = "Variables are scoped to this cell";
console.log(message);

// Return a value to see it in the output
42`
